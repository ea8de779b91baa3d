package compiler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/mocks"
	"github.com/nokeedev/objtx/pkg/types"
)

func bucketOptions() []types.SourceOptions {
	return []types.SourceOptions{
		{Patterns: []string{"src/legacy/**"}, Args: []string{"-std=c++98"}},
		{Patterns: []string{"**/*_test.cpp"}, Macros: map[string]string{"TESTING": "1"}},
	}
}

func TestBucketCompiler_SplitsRequestByOptions(t *testing.T) {
	root := t.TempDir()
	src := func(rel string) string { return filepath.Join(root, filepath.FromSlash(rel)) }

	ctrl := gomock.NewController(t)
	delegate := mocks.NewMockCompiler(ctrl)
	listener := mocks.NewMockOperationListener(ctrl)

	var requests []*types.CompileRequest
	delegate.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *types.CompileRequest, l interfaces.OperationListener) (types.WorkResult, error) {
			requests = append(requests, req)
			for _, source := range req.Sources {
				l.OperationSuccess("Compiling "+filepath.Base(source), "")
			}
			l.Done()
			return types.DidWork(len(req.Sources) > 0), nil
		}).
		Times(3)
	listener.EXPECT().OperationSuccess(gomock.Any(), "").Times(4)
	listener.EXPECT().Done().Times(1)

	compiler, err := NewBucketCompiler(delegate, root, bucketOptions(), nil)
	require.NoError(t, err)

	req := &types.CompileRequest{
		Sources:        []string{src("src/main.cpp"), src("src/legacy/old.cpp"), src("src/parser_test.cpp"), src("src/util.cpp")},
		RemovedSources: []string{src("src/gone.cpp")},
		ObjectDir:      src("build/objs"),
		TempDir:        src("build/tmp"),
		Args:           []string{"-O2"},
		Macros:         map[string]string{"NDEBUG": ""},
		Incremental:    true,
	}
	result, err := compiler.Execute(context.Background(), req, listener)

	require.NoError(t, err)
	assert.True(t, result.DidWork)
	require.Len(t, requests, 3)

	defaultReq := requests[0]
	assert.Equal(t, []string{src("src/main.cpp"), src("src/util.cpp")}, defaultReq.Sources)
	assert.Equal(t, req.RemovedSources, defaultReq.RemovedSources)
	assert.Equal(t, req.TempDir, defaultReq.TempDir)
	assert.Equal(t, []string{"-O2"}, defaultReq.Args)

	legacy := requests[1]
	assert.Equal(t, []string{src("src/legacy/old.cpp")}, legacy.Sources)
	assert.Empty(t, legacy.RemovedSources)
	assert.Equal(t, []string{"-O2", "-std=c++98"}, legacy.Args)
	assert.Equal(t, req.TempDir, filepath.Dir(legacy.TempDir))
	assert.Equal(t, req.ObjectDir, legacy.ObjectDir)

	tests := requests[2]
	assert.Equal(t, []string{src("src/parser_test.cpp")}, tests.Sources)
	assert.Equal(t, map[string]string{"NDEBUG": "", "TESTING": "1"}, tests.Macros)
	assert.NotEqual(t, legacy.TempDir, tests.TempDir)

	// The caller's request is left alone
	assert.Len(t, req.Sources, 4)
	assert.Equal(t, map[string]string{"NDEBUG": ""}, req.Macros)
}

func TestBucketCompiler_StopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	ctrl := gomock.NewController(t)
	delegate := mocks.NewMockCompiler(ctrl)
	listener := mocks.NewMockOperationListener(ctrl)

	failure := errors.New("C++ compiler failed while compiling main.cpp.")
	delegate.EXPECT().
		Execute(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(types.DidWork(true), failure).
		Times(1)
	listener.EXPECT().Done().Times(1)

	compiler, err := NewBucketCompiler(delegate, root, bucketOptions(), nil)
	require.NoError(t, err)

	req := &types.CompileRequest{
		Sources:     []string{filepath.Join(root, "src", "main.cpp"), filepath.Join(root, "src", "legacy", "old.cpp")},
		ObjectDir:   filepath.Join(root, "objs"),
		TempDir:     filepath.Join(root, "tmp"),
		Incremental: true,
	}
	result, err := compiler.Execute(context.Background(), req, listener)

	assert.ErrorIs(t, err, failure)
	assert.True(t, result.DidWork)
}

func TestBucketCompiler_BucketKeyIsStable(t *testing.T) {
	a := bucketKey(types.SourceOptions{Patterns: []string{"*.cpp"}, Macros: map[string]string{"A": "1", "B": "2"}})
	b := bucketKey(types.SourceOptions{Patterns: []string{"*.cpp"}, Macros: map[string]string{"B": "2", "A": "1"}})
	c := bucketKey(types.SourceOptions{Patterns: []string{"*.cpp"}, Args: []string{"-g"}})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBucketCompiler_BucketOf(t *testing.T) {
	root := t.TempDir()
	compiler, err := NewBucketCompiler(nil, root, bucketOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, compiler.BucketOf(filepath.Join(root, "src", "legacy", "a_test.cpp")))
	assert.Equal(t, 1, compiler.BucketOf(filepath.Join(root, "src", "a_test.cpp")))
	assert.Equal(t, -1, compiler.BucketOf(filepath.Join(root, "src", "a.cpp")))
}
