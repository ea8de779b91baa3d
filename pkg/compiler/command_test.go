package compiler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

const fakeCC = `#!/bin/sh
src=""
obj=""
while [ $# -gt 0 ]; do
  case "$1" in
    -c) src="$2"; shift ;;
    -o) obj="$2"; shift ;;
  esac
  shift
done
if grep -q BROKEN "$src"; then
  echo "$src: error: broken source" >&2
  exit 1
fi
echo "obj:$src" > "$obj"
`

type captureListener struct {
	mu        sync.Mutex
	successes []string
	failures  map[string]string
	done      int
}

func (l *captureListener) OperationSuccess(description, output string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes = append(l.successes, description)
}

func (l *captureListener) OperationFailed(description, output string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures == nil {
		l.failures = make(map[string]string)
	}
	l.failures[description] = output
}

func (l *captureListener) Done() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done++
}

type workspace struct {
	root     string
	objDir   string
	resolver resolver.Resolver
	compiler *CommandCompiler
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a shell script")
	}
	root := t.TempDir()
	script := filepath.Join(root, "fakecc")
	require.NoError(t, os.WriteFile(script, []byte(fakeCC), 0755))

	w := &workspace{
		root:     root,
		objDir:   filepath.Join(root, "build", "objs"),
		resolver: resolver.NewHashedResolver(root, ".o"),
	}
	cc, err := NewCommandCompiler(types.CompilerConfig{
		Family:      types.FamilyGCC,
		Executable:  script,
		Parallelism: 2,
	}, w.resolver, root, nil)
	require.NoError(t, err)
	w.compiler = cc
	return w
}

func (w *workspace) source(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(w.root, "src", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (w *workspace) object(t *testing.T, source string) string {
	t.Helper()
	path, err := w.resolver.Resolve(source, w.objDir)
	require.NoError(t, err)
	return path
}

func (w *workspace) request(sources ...string) *types.CompileRequest {
	return &types.CompileRequest{
		Sources:     sources,
		ObjectDir:   w.objDir,
		TempDir:     filepath.Join(w.root, "build", "tmp"),
		Incremental: true,
	}
}

func TestCommandCompiler_CompilesEverySource(t *testing.T) {
	w := newWorkspace(t)
	a := w.source(t, "a.cpp", "int a;")
	b := w.source(t, "b.cpp", "int b;")
	c := w.source(t, "c.cpp", "int c;")

	listener := &captureListener{}
	result, err := w.compiler.Execute(context.Background(), w.request(a, b, c), listener)

	require.NoError(t, err)
	assert.True(t, result.DidWork)
	assert.ElementsMatch(t, []string{"Compiling a.cpp", "Compiling b.cpp", "Compiling c.cpp"}, listener.successes)
	assert.Equal(t, 1, listener.done)
	for _, source := range []string{a, b, c} {
		data, err := os.ReadFile(w.object(t, source))
		require.NoError(t, err)
		assert.Equal(t, "obj:"+source+"\n", string(data))
	}
}

func TestCommandCompiler_FailureReportsEachSource(t *testing.T) {
	w := newWorkspace(t)
	good := w.source(t, "good.cpp", "int good;")
	broken := w.source(t, "broken.cpp", "BROKEN")

	listener := &captureListener{}
	result, err := w.compiler.Execute(context.Background(), w.request(good, broken), listener)

	require.Error(t, err)
	assert.True(t, result.DidWork)
	assert.Equal(t, "C++ compiler failed while compiling broken.cpp.", err.Error())

	var failure *CompileFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, []string{broken}, failure.Sources)

	assert.Equal(t, []string{"Compiling good.cpp"}, listener.successes)
	assert.Contains(t, listener.failures["Compiling broken.cpp"], "broken source")
	assert.FileExists(t, w.object(t, good))
}

func TestCommandCompiler_DeletesRemovedSourceObjects(t *testing.T) {
	w := newWorkspace(t)
	gone := filepath.Join(w.root, "src", "gone.cpp")
	stale := w.object(t, gone)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))

	req := w.request()
	req.RemovedSources = []string{gone}
	result, err := w.compiler.Execute(context.Background(), req, &captureListener{})

	require.NoError(t, err)
	assert.True(t, result.DidWork)
	assert.NoDirExists(t, filepath.Dir(stale))
}

func TestCommandCompiler_NothingToDo(t *testing.T) {
	w := newWorkspace(t)
	listener := &captureListener{}

	result, err := w.compiler.Execute(context.Background(), w.request(), listener)

	require.NoError(t, err)
	assert.False(t, result.DidWork)
	assert.Equal(t, 1, listener.done)
}

func TestCommandCompiler_NonIncrementalCleansObjectDirectory(t *testing.T) {
	w := newWorkspace(t)
	leftover := filepath.Join(w.objDir, "orphan", "orphan.o")
	require.NoError(t, os.MkdirAll(filepath.Dir(leftover), 0755))
	require.NoError(t, os.WriteFile(leftover, []byte("old"), 0644))
	a := w.source(t, "a.cpp", "int a;")

	req := w.request(a)
	req.Incremental = false
	_, err := w.compiler.Execute(context.Background(), req, &captureListener{})

	require.NoError(t, err)
	assert.NoFileExists(t, leftover)
	assert.FileExists(t, w.object(t, a))
}

func TestCommandCompiler_Cancelled(t *testing.T) {
	w := newWorkspace(t)
	a := w.source(t, "a.cpp", "int a;")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.compiler.Execute(ctx, w.request(a), &captureListener{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandCompiler_Arguments(t *testing.T) {
	req := &types.CompileRequest{
		Args:     []string{"-O2"},
		Includes: []string{"include"},
		Macros:   map[string]string{"NDEBUG": "", "VERSION": "3"},
	}

	tests := []struct {
		family types.CompilerFamily
		want   []string
	}{
		{types.FamilyGCC, []string{"-O2", "-I", "include", "-DNDEBUG", "-DVERSION=3", "-c", "a.cpp", "-o", "a.o"}},
		{types.FamilyClang, []string{"-O2", "-I", "include", "-DNDEBUG", "-DVERSION=3", "-c", "a.cpp", "-o", "a.o"}},
		{types.FamilyVisualCpp, []string{"/nologo", "-O2", "/Iinclude", "/DNDEBUG", "/DVERSION=3", "/c", "a.cpp", "/Foa.o"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			cc, err := NewCommandCompiler(types.CompilerConfig{Family: tt.family}, resolver.NewHashedResolver("", ".o"), "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cc.Arguments(req, "a.cpp", "a.o"))
		})
	}
}

func TestNewCommandCompiler_UnknownFamily(t *testing.T) {
	_, err := NewCommandCompiler(types.CompilerConfig{Family: "fortran"}, nil, "", nil)
	assert.Error(t, err)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "C compiler", ToolName([]string{"a.c", "b.c"}))
	assert.Equal(t, "C++ compiler", ToolName([]string{"a.c", "b.cpp"}))
}

func TestSafeGroup_RecoversPanic(t *testing.T) {
	group, _ := NewSafeGroup(context.Background(), nil)
	group.SetLimit(0)
	group.Go(func() error { return nil })
	group.Go(func() error { panic("boom") })

	err := group.Wait()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}
