package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokeedev/objtx/internal/engine"
	"github.com/nokeedev/objtx/internal/state"
	"github.com/nokeedev/objtx/pkg/compiler"
	"github.com/nokeedev/objtx/pkg/config"
	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
)

type testCLI struct {
	*CLI
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// newTestCLI creates a CLI compiling with a fake toolchain: objects hold
// "obj:<source content>" and sources containing "broken" fail
func newTestCLI(root string) *testCLI {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	c := NewCLIWithOutput(NewConfig(), stdout, stderr)
	c.overrides = engine.Dependencies{
		Compiler: interfaces.CompilerFunc(func(ctx context.Context, req *types.CompileRequest, listener interfaces.OperationListener) (types.WorkResult, error) {
			defer listener.Done()
			r, err := resolver.ForFamily(types.FamilyGCC, root)
			if err != nil {
				return types.DidWork(false), err
			}
			if !req.Incremental {
				_ = os.RemoveAll(req.ObjectDir)
			}
			for _, source := range req.RemovedSources {
				object, _ := r.Resolve(source, req.ObjectDir)
				_ = os.RemoveAll(resolver.UnitOf(r, object))
			}
			var failed []string
			for _, source := range req.Sources {
				content, err := os.ReadFile(source)
				if err != nil {
					return types.DidWork(true), err
				}
				description := "Compiling " + filepath.Base(source)
				if strings.Contains(string(content), "broken") {
					listener.OperationFailed(description, "error: expected ';'")
					failed = append(failed, source)
					continue
				}
				object, _ := r.Resolve(source, req.ObjectDir)
				_ = os.MkdirAll(filepath.Dir(object), 0755)
				_ = os.WriteFile(object, append([]byte("obj:"), content...), 0644)
				listener.OperationSuccess(description, "")
			}
			if len(failed) > 0 {
				return types.DidWork(true), &compiler.CompileFailure{Tool: compiler.ToolName(req.Sources), Sources: failed}
			}
			return types.DidWork(true), nil
		}),
		Notifier: nopNotifier{},
	}
	return &testCLI{CLI: c, stdout: stdout, stderr: stderr}
}

func (c *testCLI) run(args ...string) error {
	c.stdout.Reset()
	c.stderr.Reset()
	return c.Execute(args)
}

type nopNotifier struct{}

func (nopNotifier) NotifyCommitted(string, time.Duration) {}
func (nopNotifier) NotifyRolledBack(string, error)        {}
func (nopNotifier) NotifyRollbackFailed(string, error)    {}

func writeSource(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, "src", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func objectOf(t *testing.T, root, source string) string {
	t.Helper()
	r, err := resolver.ForFamily(types.FamilyGCC, root)
	require.NoError(t, err)
	object, err := r.Resolve(source, filepath.Join(root, "build", "objs"))
	require.NoError(t, err)
	return object
}

func initProject(t *testing.T) (string, *testCLI) {
	t.Helper()
	root := t.TempDir()
	c := newTestCLI(root)
	require.NoError(t, c.run("--root", root, "init", "--family", "gcc"))
	return root, newTestCLI(root)
}

func TestInitCommand(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		args     []string
		file     string
		expected types.CompilerFamily
	}{
		{"default gcc", []string{"src/main.c"}, nil, "objtx.yaml", types.FamilyGCC},
		{"objective-c", []string{"src/view.mm"}, nil, "objtx.yaml", types.FamilyClang},
		{"visual studio", []string{"app.sln"}, nil, "objtx.yaml", types.FamilyVisualCpp},
		{"explicit family", nil, []string{"--family", "mirror"}, "objtx.yaml", types.FamilyMirror},
		{"json format", nil, []string{"--format", "json"}, "objtx.json", types.FamilyGCC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			for _, file := range tt.files {
				path := filepath.Join(root, file)
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
				require.NoError(t, os.WriteFile(path, []byte("test"), 0644))
			}

			c := newTestCLI(root)
			require.NoError(t, c.run(append([]string{"--root", root, "init"}, tt.args...)...))
			assert.Contains(t, c.stdout.String(), "Created configuration")

			cfg, err := config.NewManager().LoadConfig(filepath.Join(root, tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Compiler.Family)
		})
	}
}

func TestInitCommand_RefusesOverwrite(t *testing.T) {
	root, c := initProject(t)

	err := c.run("--root", root, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	assert.NoError(t, c.run("--root", root, "init", "--force"))
}

func TestInitCommand_UnknownFamily(t *testing.T) {
	root := t.TempDir()
	err := newTestCLI(root).run("--root", root, "init", "--family", "tcc")
	assert.ErrorIs(t, err, resolver.ErrResolutionUnsupported)
}

func TestCompileCommand_WithoutConfiguration(t *testing.T) {
	root := t.TempDir()
	err := newTestCLI(root).run("--root", root, "compile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "objtx init")
}

func TestCompileCommand_CommitsThenRollsBack(t *testing.T) {
	root, c := initProject(t)
	a := writeSource(t, root, "a.cpp", "int a;")
	b := writeSource(t, root, "b.cpp", "int b;")

	require.NoError(t, c.run("--root", root, "compile"))
	assert.Contains(t, c.stdout.String(), "Compiled 2 source(s)")
	assert.FileExists(t, objectOf(t, root, a))

	writeSource(t, root, "b.cpp", "broken")
	err := c.run("--root", root, "compile")
	require.Error(t, err)
	assert.Equal(t, "C++ compiler failed while compiling b.cpp.", err.Error())
	assert.Contains(t, c.stdout.String(), "object files restored")

	data, err := os.ReadFile(objectOf(t, root, b))
	require.NoError(t, err)
	assert.Equal(t, "obj:int b;", string(data))
}

func TestCompileCommand_ExplicitSources(t *testing.T) {
	root, c := initProject(t)
	writeSource(t, root, "a.cpp", "int a;")
	b := writeSource(t, root, "b.cpp", "int b;")
	require.NoError(t, c.run("--root", root, "compile"))

	writeSource(t, root, "a.cpp", "broken")
	writeSource(t, root, "b.cpp", "int b = 2;")

	// a.cpp is not part of this run, so its breakage goes unnoticed
	require.NoError(t, c.run("--root", root, "compile", b))
	assert.Contains(t, c.stdout.String(), "Compiled 1 source(s)")
}

func TestCompileCommand_EnvironmentOverride(t *testing.T) {
	root, c := initProject(t)
	a := writeSource(t, root, "a.cpp", "int a;")
	t.Setenv("OBJTX_OBJECTDIR", "out/objects")

	require.NoError(t, c.run("--root", root, "compile"))

	r, err := resolver.ForFamily(types.FamilyGCC, root)
	require.NoError(t, err)
	object, err := r.Resolve(a, filepath.Join(root, "out", "objects"))
	require.NoError(t, err)
	assert.FileExists(t, object)
}

func TestResolveCommand(t *testing.T) {
	root, c := initProject(t)
	a := writeSource(t, root, "a.cpp", "int a;")

	require.NoError(t, c.run("--root", root, "resolve", a))
	assert.Contains(t, c.stdout.String(), objectOf(t, root, a))

	require.NoError(t, c.run("--root", root, "resolve", "--unit", a))
	assert.Contains(t, c.stdout.String(), filepath.Dir(objectOf(t, root, a)))

	err := c.run("--root", root, "resolve", "--family", "tcc", a)
	assert.ErrorIs(t, err, resolver.ErrResolutionUnsupported)
}

func TestStatusCommand(t *testing.T) {
	root, c := initProject(t)
	a := writeSource(t, root, "a.cpp", "int a;")

	require.NoError(t, c.run("--root", root, "status"))
	assert.Contains(t, c.stdout.String(), "No transactions recorded yet")

	require.NoError(t, c.run("--root", root, "compile"))
	require.NoError(t, c.run("--root", root, "status"))
	assert.Contains(t, c.stdout.String(), "committed")
	assert.Contains(t, c.stdout.String(), filepath.Join("build", "objs"))

	require.NoError(t, c.run("--root", root, "status", "--json"))
	var records []state.TransactionRecord
	require.NoError(t, json.Unmarshal(c.stdout.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, types.OutcomeCommitted, records[0].Outcome)
	assert.Equal(t, []string{a}, records[0].CommittedSources)
}

func TestLogsCommand(t *testing.T) {
	root, c := initProject(t)
	writeSource(t, root, "a.cpp", "int a;")
	writeSource(t, root, "b.cpp", "broken")

	require.NoError(t, c.run("--root", root, "logs"))
	assert.Contains(t, c.stdout.String(), "No compilation output recorded yet")

	require.Error(t, c.run("--root", root, "compile"))

	require.NoError(t, c.run("--root", root, "logs"))
	assert.Contains(t, c.stdout.String(), "Compiling a.cpp successful.")
	assert.Contains(t, c.stdout.String(), "Compiling b.cpp failed.")

	require.NoError(t, c.run("--root", root, "logs", "--failed"))
	assert.NotContains(t, c.stdout.String(), "a.cpp")
	assert.Contains(t, c.stdout.String(), "expected ';'")
}

func TestCleanCommand(t *testing.T) {
	root, c := initProject(t)
	writeSource(t, root, "a.cpp", "int a;")
	require.NoError(t, c.run("--root", root, "compile"))
	require.DirExists(t, filepath.Join(root, "build", "objs"))

	require.NoError(t, c.run("--root", root, "clean"))
	assert.NoDirExists(t, filepath.Join(root, "build", "objs"))

	record, err := state.NewManager(root, nil).Read(filepath.Join(root, "build", "objs"))
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestFailedEntries(t *testing.T) {
	content := strings.Join([]string{
		"=== Compiling a.cpp successful. ===",
		"",
		"=== Compiling b.cpp failed. ===",
		"b.cpp:1: error",
		"=== Compiling c.cpp successful. ===",
	}, "\n")

	assert.Equal(t, "=== Compiling b.cpp failed. ===\nb.cpp:1: error", failedEntries(content))
}
