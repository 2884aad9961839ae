package invoker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/pkg/logger"
)

// TestHelperProcess stands in for the compute engine when re-executed by
// helperConfig. It does nothing in a normal test run.
func TestHelperProcess(_ *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	switch os.Getenv("HELPER_MODE") {
	case "echo":
		wd, _ := os.Getwd()
		fmt.Println("hello from engine")
		fmt.Println("args=" + strings.Join(args, " "))
		fmt.Println("wd=" + wd)
		fmt.Println("extra=" + os.Getenv("ENGINE_EXTRA"))
		fmt.Fprint(os.Stderr, "warning without newline")
	case "exit":
		os.Exit(3)
	case "sleep":
		time.Sleep(time.Minute)
	case "flood":
		fmt.Print(strings.Repeat("x", 4096))
	}
	os.Exit(0)
}

func helperConfig(mode string) Config {
	return Config{
		Executable: os.Args[0],
		Args:       []string{"-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HELPER_MODE":            mode,
		},
		WaitDelay: time.Second,
	}
}

func TestInvoker_Invoke(t *testing.T) {
	t.Run("Should pass workspace arguments and environment", func(t *testing.T) {
		dir := t.TempDir()
		inv := New(helperConfig("echo"))
		out, err := inv.Invoke(t.Context(), Invocation{
			Dir:    dir,
			Module: "sum",
			Seq:    2,
			Format: record.FormatYAML,
			Env:    map[string]string{"ENGINE_EXTRA": "42"},
		})
		require.NoError(t, err)
		assert.True(t, out.Success())
		assert.Contains(t, out.Stdout, "args=--workspace "+dir+" --module sum --seq 2 --format yaml")
		assert.Contains(t, out.Stdout, "extra=42")
		wantDir, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		assert.Contains(t, out.Stdout, "wd="+wantDir)
		assert.Equal(t, "warning without newline", out.Stderr)
	})

	t.Run("Should report a non-zero exit without failing", func(t *testing.T) {
		out, err := New(helperConfig("exit")).Invoke(t.Context(), Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.False(t, out.Success())
	})

	t.Run("Should kill the engine on timeout", func(t *testing.T) {
		cfg := helperConfig("sleep")
		cfg.Timeout = 200 * time.Millisecond
		start := time.Now()
		out, err := New(cfg).Invoke(t.Context(), Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.False(t, out.Success())
		assert.Less(t, time.Since(start), 30*time.Second)
	})

	t.Run("Should kill the engine on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(100*time.Millisecond, cancel)
		out, err := New(helperConfig("sleep")).Invoke(ctx, Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		require.NoError(t, err)
		assert.True(t, out.Canceled)
		assert.False(t, out.TimedOut)
	})

	t.Run("Should bound captured stdout", func(t *testing.T) {
		cfg := helperConfig("flood")
		cfg.MaxStdout = 100
		out, err := New(cfg).Invoke(t.Context(), Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		require.NoError(t, err)
		assert.Len(t, out.Stdout, 100)
		assert.True(t, out.StdoutTruncated)
	})

	t.Run("Should return a ProcessError when the engine cannot start", func(t *testing.T) {
		_, err := New(Config{Executable: filepath.Join(t.TempDir(), "missing")}).
			Invoke(t.Context(), Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		var procErr *ProcessError
		require.ErrorAs(t, err, &procErr)
		assert.Equal(t, "start", procErr.Operation)

		_, err = New(Config{}).Invoke(t.Context(), Invocation{Dir: t.TempDir()})
		require.ErrorAs(t, err, &procErr)
	})

	t.Run("Should relay engine output lines to the scoped logger", func(t *testing.T) {
		stream := logger.NewStream(0)
		defer stream.Close()
		var mu sync.Mutex
		var lines []string
		unsubscribe := stream.Subscribe(func(e logger.Entry) {
			if e.Scope != "exec-1" {
				return
			}
			mu.Lock()
			lines = append(lines, e.Message)
			mu.Unlock()
		})
		defer unsubscribe()
		l := logger.NewLogger(&logger.Config{Level: logger.DebugLevel, Output: io.Discard, Stream: stream})
		ctx := logger.ContextWithScope(logger.ContextWithLogger(t.Context(), l), "exec-1")

		_, err := New(helperConfig("echo")).Invoke(ctx, Invocation{Dir: t.TempDir(), Module: "sum", Seq: 1})
		require.NoError(t, err)
		stream.Sync()

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, lines, "hello from engine")
		assert.Contains(t, lines, "warning without newline")
	})
}

func TestMergeEnvironment(t *testing.T) {
	t.Run("Should let later overlays win over the process environment", func(t *testing.T) {
		t.Setenv("ENGINEBRIDGE_TEST_VAR", "base")
		env := mergeEnvironment(
			map[string]string{"ENGINEBRIDGE_TEST_VAR": "config", "ONLY_CONFIG": "1"},
			map[string]string{"ENGINEBRIDGE_TEST_VAR": "call"},
		)
		assert.Contains(t, env, "ENGINEBRIDGE_TEST_VAR=call")
		assert.Contains(t, env, "ONLY_CONFIG=1")
		assert.NotContains(t, env, "ENGINEBRIDGE_TEST_VAR=base")
	})
}

func TestLimitedBuffer(t *testing.T) {
	t.Run("Should keep the prefix and count everything", func(t *testing.T) {
		b := newLimitedBuffer(4)
		n, err := b.Write([]byte("abcdef"))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, "abcd", b.String())
		assert.True(t, b.Truncated())
		assert.Equal(t, int64(6), b.Written())
	})
}
