package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/compozy/enginebridge/engine/computekit"
	"github.com/compozy/enginebridge/engine/invoker"
	"github.com/compozy/enginebridge/engine/logcapture"
	"github.com/compozy/enginebridge/engine/record"
	"github.com/compozy/enginebridge/engine/result"
	"github.com/compozy/enginebridge/engine/workspace"
	"github.com/compozy/enginebridge/pkg/logger"
)

type sumInputs struct {
	Values []float64
	Gaps   []bool
}

func (r *sumInputs) Fields(fs *record.FieldSet) {
	record.Array(fs, "values", &r.Values)
	record.Array(fs, "gaps", &r.Gaps)
}

type sumOutputs struct {
	Sum float64
}

func (r *sumOutputs) Fields(fs *record.FieldSet) {
	record.Value(fs, "sum", &r.Sum)
}

// TestHelperProcess is the synthetic compute engine re-executed by the
// runner tests. It does nothing in a normal test run.
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
	in := &sumInputs{}
	var err error
	switch os.Getenv("HELPER_MODE") {
	case "sum":
		err = computekit.Run(context.Background(), args, in, func(context.Context) (record.Record, error) {
			fmt.Println("computing masked sum")
			out := &sumOutputs{}
			for i, v := range in.Values {
				if i < len(in.Gaps) && in.Gaps[i] {
					continue
				}
				out.Sum += v
			}
			return out, nil
		})
	case "fail":
		err = computekit.Run(context.Background(), args, in, func(context.Context) (record.Record, error) {
			return nil, errors.New("matrix is singular")
		})
	case "crash":
		kit, kitErr := computekit.FromArgs(args)
		if kitErr == nil {
			_ = kit.Begin()
		}
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

type harness struct {
	root    string
	stream  *logger.Stream
	ctx     context.Context
	reader  *sdkmetric.ManualReader
	meters  *sdkmetric.MeterProvider
	manager *workspace.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stream := logger.NewStream(0)
	t.Cleanup(stream.Close)
	l := logger.NewLogger(&logger.Config{Level: logger.DebugLevel, Output: io.Discard, Stream: stream})
	root := t.TempDir()
	reader := sdkmetric.NewManualReader()
	return &harness{
		root:    root,
		stream:  stream,
		ctx:     logger.ContextWithLogger(t.Context(), l),
		reader:  reader,
		meters:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		manager: workspace.NewManager(afero.NewOsFs(), root, "sum", record.FormatBinary),
	}
}

func (h *harness) runner(t *testing.T, mode string, opts Options) *Runner {
	t.Helper()
	engine := invoker.New(invoker.Config{
		Executable: os.Args[0],
		Args:       []string{"-test.run=TestHelperProcess", "--"},
		Env:        map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": mode},
		Timeout:    time.Minute,
		WaitDelay:  time.Second,
	})
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.SettleTimeout == 0 {
		opts.SettleTimeout = 50 * time.Millisecond
	}
	r, err := NewRunner(Deps{
		Manager:       h.manager,
		Engine:        engine,
		Capture:       logcapture.New(h.stream, afero.NewOsFs()),
		MeterProvider: h.meters,
	}, opts)
	require.NoError(t, err)
	return r
}

func sumRequest(taskID string) Request {
	return Request{
		Key:     workspace.Key{InstanceID: "100", TaskID: taskID},
		Module:  "sum",
		Seq:     1,
		Inputs:  &sumInputs{Values: []float64{1.0, 2.0}, Gaps: []bool{false, true}},
		Outputs: &sumOutputs{},
	}
}

func TestRunner_Run(t *testing.T) {
	t.Run("Should return the gap-masked sum computed by the engine", func(t *testing.T) {
		h := newHarness(t)
		req := sumRequest("1")
		res, err := h.runner(t, "sum", Options{}).Run(h.ctx, req)
		require.NoError(t, err)
		out, ok := res.Outputs.(*sumOutputs)
		require.True(t, ok)
		assert.Equal(t, 1.0, out.Sum)
		assert.Equal(t, 0, res.Process.ExitCode)
		assert.NotEmpty(t, res.ExecID)

		logData, err := os.ReadFile(res.Workspace.LogPath("sum", 1))
		require.NoError(t, err)
		assert.Contains(t, string(logData), "computing masked sum")
		assert.Contains(t, string(logData), res.ExecID)
	})

	t.Run("Should surface an engine-reported failure", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner(t, "fail", Options{}).Run(h.ctx, sumRequest("1"))
		var engErr *result.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, result.KindReported, engErr.Kind)
		assert.Equal(t, "matrix is singular", engErr.Descriptor.Message)
	})

	t.Run("Should stop waiting for the marker once an error file exists", func(t *testing.T) {
		h := newHarness(t)
		start := time.Now()
		_, err := h.runner(t, "fail", Options{SettleTimeout: 10 * time.Second}).Run(h.ctx, sumRequest("1"))
		var engErr *result.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, result.KindReported, engErr.Kind)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("Should synthesize a failure when the engine dies mid-run", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner(t, "crash", Options{}).Run(h.ctx, sumRequest("1"))
		var engErr *result.EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, result.KindIncomplete, engErr.Kind)
		assert.Contains(t, engErr.Descriptor.Message, "PROCESSING")
	})

	t.Run("Should ignore an error file left by a previous attempt", func(t *testing.T) {
		h := newHarness(t)
		req := sumRequest("1")
		ws, err := h.manager.Ensure(h.ctx, req.Key)
		require.NoError(t, err)
		stale, err := record.Marshal(record.FormatBinary, record.NewErrorDescriptor("old failure"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(ws.ErrorPath("sum", 1), stale, 0o644))

		res, err := h.runner(t, "sum", Options{}).Run(h.ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 1.0, res.Outputs.(*sumOutputs).Sum)
	})

	t.Run("Should return a ProcessError when the engine is missing", func(t *testing.T) {
		h := newHarness(t)
		r, err := NewRunner(Deps{
			Manager: h.manager,
			Engine:  invoker.New(invoker.Config{Executable: filepath.Join(h.root, "no-engine")}),
			Capture: logcapture.New(h.stream, afero.NewOsFs()),
		}, Options{})
		require.NoError(t, err)
		_, err = r.Run(h.ctx, sumRequest("1"))
		var procErr *invoker.ProcessError
		require.ErrorAs(t, err, &procErr)
	})

	t.Run("Should reject incomplete requests", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner(t, "sum", Options{}).Run(h.ctx, Request{Module: "sum"})
		assert.Error(t, err)
	})
}

func TestRunner_Archive(t *testing.T) {
	t.Run("Should archive the filtered workspace and delete the source", func(t *testing.T) {
		h := newHarness(t)
		dest := t.TempDir()
		res, err := h.runner(t, "sum", Options{Archive: &workspace.ArchiveOptions{
			Destination:     dest,
			Exclude:         []string{"*.bin"},
			DeleteAfterCopy: true,
		}}).Run(h.ctx, sumRequest("1"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dest, "sum-100-1"), res.ArchivePath)
		assert.FileExists(t, filepath.Join(res.ArchivePath, "sum-1.log"))
		assert.FileExists(t, filepath.Join(res.ArchivePath, "sum-state-1"))
		assert.NoFileExists(t, filepath.Join(res.ArchivePath, "sum-inputs-1.bin"))
		assert.NoDirExists(t, res.Workspace.Dir)
	})

	t.Run("Should nest step workspaces under their task directory", func(t *testing.T) {
		h := newHarness(t)
		dest := t.TempDir()
		req := sumRequest("1")
		req.Key.Step = 2
		res, err := h.runner(t, "sum", Options{Archive: &workspace.ArchiveOptions{Destination: dest}}).Run(h.ctx, req)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dest, "sum-100-1", "st-2"), res.ArchivePath)
		assert.DirExists(t, res.Workspace.Dir)
	})

	t.Run("Should fail the task on archival errors when configured", func(t *testing.T) {
		h := newHarness(t)
		blocker := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		_, err := h.runner(t, "sum", Options{Archive: &workspace.ArchiveOptions{
			Destination:     blocker,
			FailTaskOnError: true,
		}}).Run(h.ctx, sumRequest("1"))
		assert.ErrorIs(t, err, workspace.ErrWorkspaceIO)
	})

	t.Run("Should keep the result when archival errors are not escalated", func(t *testing.T) {
		h := newHarness(t)
		blocker := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		res, err := h.runner(t, "sum", Options{Archive: &workspace.ArchiveOptions{
			Destination: blocker,
		}}).Run(h.ctx, sumRequest("1"))
		require.NoError(t, err)
		assert.ErrorIs(t, res.ArchiveErr, workspace.ErrWorkspaceIO)
		assert.Equal(t, 1.0, res.Outputs.(*sumOutputs).Sum)
	})

	t.Run("Should remove the workspace after the run when configured", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.runner(t, "sum", Options{DeleteAfterRun: true}).Run(h.ctx, sumRequest("1"))
		require.NoError(t, err)
		assert.NoDirExists(t, res.Workspace.Dir)
	})
}

func TestPool_RunAll(t *testing.T) {
	t.Run("Should run every request with isolated task logs", func(t *testing.T) {
		h := newHarness(t)
		pool := NewPool(h.runner(t, "sum", Options{}), 2)
		reqs := make([]Request, 4)
		for i := range reqs {
			reqs[i] = sumRequest(strconv.Itoa(i + 1))
		}

		done := pool.RunAll(h.ctx, reqs)

		require.Len(t, done, 4)
		ids := make([]string, 0, len(done))
		for _, c := range done {
			require.NoError(t, c.Err)
			assert.Equal(t, 1.0, c.Result.Outputs.(*sumOutputs).Sum)
			ids = append(ids, c.Result.ExecID)
		}
		for i, c := range done {
			data, err := os.ReadFile(c.Result.Workspace.LogPath("sum", 1))
			require.NoError(t, err)
			for j, id := range ids {
				if i == j {
					assert.Contains(t, string(data), id)
				} else {
					assert.NotContains(t, string(data), id)
				}
			}
		}
	})

	t.Run("Should not start requests after cancellation", func(t *testing.T) {
		h := newHarness(t)
		pool := NewPool(h.runner(t, "sum", Options{}), 1)
		ctx, cancel := context.WithCancel(h.ctx)
		cancel()
		done := pool.RunAll(ctx, []Request{sumRequest("1"), sumRequest("2")})
		for _, c := range done {
			assert.ErrorIs(t, c.Err, context.Canceled)
		}
	})
}

func TestRunner_Metrics(t *testing.T) {
	t.Run("Should count outcomes by kind", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner(t, "sum", Options{}).Run(h.ctx, sumRequest("1"))
		require.NoError(t, err)
		_, err = h.runner(t, "fail", Options{}).Run(h.ctx, sumRequest("2"))
		require.Error(t, err)

		var rm metricdata.ResourceMetrics
		require.NoError(t, h.reader.Collect(t.Context(), &rm))
		counts := map[string]int64{}
		latencySeen := false
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				switch m.Name {
				case "enginebridge_task_outcomes_total":
					sum, ok := m.Data.(metricdata.Sum[int64])
					require.True(t, ok)
					for _, dp := range sum.DataPoints {
						outcome, _ := dp.Attributes.Value("outcome")
						counts[outcome.AsString()] += dp.Value
					}
				case "enginebridge_task_run_seconds":
					latencySeen = true
				}
			}
		}
		assert.Equal(t, int64(1), counts[outcomeSuccess])
		assert.Equal(t, int64(1), counts[string(result.KindReported)])
		assert.True(t, latencySeen)
	})
}
