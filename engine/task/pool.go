package task

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/compozy/enginebridge/pkg/logger"
)

// Completion pairs a request with how it ended.
type Completion struct {
	Request Request
	Result  *Result
	Err     error
}

// Pool runs requests on a bounded number of slots. Slots share nothing but
// the log stream; a failing task never cancels its siblings.
type Pool struct {
	runner *Runner
	slots  int
}

func NewPool(runner *Runner, slots int) *Pool {
	if slots < 1 {
		slots = 1
	}
	return &Pool{runner: runner, slots: slots}
}

// RunAll runs every request and returns completions in request order.
// Requests not yet started when ctx is done complete with ctx's error.
func (p *Pool) RunAll(ctx context.Context, reqs []Request) []Completion {
	log := logger.FromContext(ctx)
	out := make([]Completion, len(reqs))
	var g errgroup.Group
	g.SetLimit(p.slots)
	for i, req := range reqs {
		out[i].Request = req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result, out[i].Err = p.runner.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	failed := 0
	for i := range out {
		if out[i].Err != nil {
			failed++
		}
	}
	log.Info("Task batch finished", "tasks", len(reqs), "failed", failed, "slots", p.slots)
	return out
}
