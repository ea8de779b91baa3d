package oplog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokeedev/objtx/pkg/interfaces"
	"github.com/nokeedev/objtx/pkg/logger"
)

var _ interfaces.OperationListener = (*OperationLogger)(nil)

func TestOperationLogger_WritesEveryOperation(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "compileCpp")
	var console bytes.Buffer
	ops := New(tempDir, logger.CreateLoggerWithOutput("", "info", &console))

	ops.OperationSuccess("Compiling a.cpp", "")
	ops.OperationFailed("Compiling b.cpp", "b.cpp:3: error: expected ';'")
	ops.Done()

	data, err := os.ReadFile(ops.LogLocation())
	require.NoError(t, err)
	assert.Equal(t, "=== Compiling a.cpp successful. ===\n=== Compiling b.cpp failed. ===\nb.cpp:3: error: expected ';'\n", string(data))

	out := console.String()
	assert.Contains(t, out, "ERROR: Compiling b.cpp failed.\nb.cpp:3: error: expected ';'")
	assert.Contains(t, out, "Finished 2 operation(s), see full log "+ops.LogLocation())
	assert.NotContains(t, out, "Compiling a.cpp")
}

func TestOperationLogger_LimitsConsoleFailures(t *testing.T) {
	var console bytes.Buffer
	ops := New(t.TempDir(), logger.CreateLoggerWithOutput("", "info", &console)).WithMaxFailures(2)

	for i := 0; i < 5; i++ {
		ops.OperationFailed(fmt.Sprintf("Compiling f%d.cpp", i), "boom")
	}
	ops.Done()

	assert.Equal(t, 2, strings.Count(console.String(), "ERROR:"))
	assert.Contains(t, console.String(), "3 more failed operation(s)")

	data, err := os.ReadFile(ops.LogLocation())
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(data), "failed. ==="))
}

func TestOperationLogger_NoOperationsNoFile(t *testing.T) {
	var console bytes.Buffer
	ops := New(t.TempDir(), logger.CreateLoggerWithOutput("", "info", &console))

	ops.Done()
	ops.Done()

	assert.NoFileExists(t, ops.LogLocation())
	assert.Empty(t, console.String())
}

func TestOperationLogger_Concurrent(t *testing.T) {
	ops := New(t.TempDir(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				ops.OperationFailed("op", "")
				return
			}
			ops.OperationSuccess("op", "")
		}(i)
	}
	wg.Wait()
	ops.Done()

	successes, failures := ops.Counts()
	assert.Equal(t, 15, successes)
	assert.Equal(t, 5, failures)
}
