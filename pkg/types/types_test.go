package types

import (
	"path/filepath"
	"testing"
)

func TestCompileRequest_Validate(t *testing.T) {
	root := t.TempDir()
	objDir := filepath.Join(root, "build", "objs")
	tmpDir := filepath.Join(root, "build", "tmp")

	tests := []struct {
		name    string
		req     CompileRequest
		wantErr bool
	}{
		{
			name: "valid request",
			req: CompileRequest{
				Sources:        []string{"src/a.cpp", "src/b.cpp"},
				RemovedSources: []string{"src/c.cpp"},
				ObjectDir:      objDir,
				TempDir:        tmpDir,
			},
		},
		{
			name:    "missing object dir",
			req:     CompileRequest{TempDir: tmpDir},
			wantErr: true,
		},
		{
			name:    "missing temp dir",
			req:     CompileRequest{ObjectDir: objDir},
			wantErr: true,
		},
		{
			name:    "temp dir inside object dir",
			req:     CompileRequest{ObjectDir: objDir, TempDir: filepath.Join(objDir, "tmp")},
			wantErr: true,
		},
		{
			name:    "object dir inside temp dir",
			req:     CompileRequest{ObjectDir: filepath.Join(tmpDir, "objs"), TempDir: tmpDir},
			wantErr: true,
		},
		{
			name:    "same directory",
			req:     CompileRequest{ObjectDir: objDir, TempDir: objDir},
			wantErr: true,
		},
		{
			name: "source compiled and removed",
			req: CompileRequest{
				Sources:        []string{"src/a.cpp"},
				RemovedSources: []string{"src/./a.cpp"},
				ObjectDir:      objDir,
				TempDir:        tmpDir,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/build/objs", "/build/tmp", false},
		{"/build/objs", "/build/objs", true},
		{"/build", "/build/objs", true},
		{"/build/objs/x", "/build/objs", true},
		{"/build/objs", "/build/objs2", false},
		{"/build/..objs", "/build", true},
	}

	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompileRequest_Clone(t *testing.T) {
	req := &CompileRequest{
		Sources:   []string{"a.cpp"},
		Args:      []string{"-O2"},
		Macros:    map[string]string{"NDEBUG": ""},
		ObjectDir: "objs",
		TempDir:   "tmp",
	}

	clone := req.Clone()
	clone.Sources[0] = "b.cpp"
	clone.Args = append(clone.Args, "-g")
	clone.Macros["DEBUG"] = "1"

	if req.Sources[0] != "a.cpp" {
		t.Errorf("clone shares sources with original")
	}
	if len(req.Args) != 1 {
		t.Errorf("clone shares args with original")
	}
	if _, ok := req.Macros["DEBUG"]; ok {
		t.Errorf("clone shares macros with original")
	}
}

func TestWorkResult_Or(t *testing.T) {
	if DidWork(false).Or(DidWork(false)).DidWork {
		t.Error("expected no work")
	}
	if !DidWork(false).Or(DidWork(true)).DidWork {
		t.Error("expected work")
	}
}

func TestProjectConfig_IsIncrementalAfterFailure(t *testing.T) {
	cfg := &ProjectConfig{}
	if !cfg.IsIncrementalAfterFailure() {
		t.Error("expected transactional compilation by default")
	}

	disabled := false
	cfg.IncrementalAfterFailure = &disabled
	if cfg.IsIncrementalAfterFailure() {
		t.Error("expected transactional compilation to be disabled")
	}
}

func TestTransactionState_IsTerminal(t *testing.T) {
	for _, s := range []TransactionState{StateInit, StateStashed, StateBackedUp, StateInvoking} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []TransactionState{StateCommitted, StateRolledBack} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
