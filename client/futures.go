package client

import (
	"context"
	"sync"
	"time"

	"actionrpc/message"
	"actionrpc/transport"
)

// Future is the non-blocking counterpart to a blocking Call* method (§4.5
// "Future contract"). Done reports true only once Result has successfully
// retrieved the outcome; a timeout is never cached, so Result may be
// retried, while any other result or error is cached and replayed on every
// later call.
type Future[T any] struct {
	mu     sync.Mutex
	done   bool
	result T
	err    error
	await  func(ctx context.Context, timeout time.Duration) (T, error)
}

func newFuture[T any](await func(ctx context.Context, timeout time.Duration) (T, error)) *Future[T] {
	return &Future[T]{await: await}
}

// Done reports whether Result has already returned a non-timeout outcome.
func (f *Future[T]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result blocks up to timeout for the outcome. A *transport.MessageReceiveTimeout
// is never cached — the Future may be awaited again later. Any other
// result or error is cached and replayed without re-waiting.
func (f *Future[T]) Result(ctx context.Context, timeout time.Duration) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return f.result, f.err
	}
	res, err := f.await(ctx, timeout)
	if _, isTimeout := err.(*transport.MessageReceiveTimeout); isTimeout {
		return res, err
	}
	f.result, f.err, f.done = res, err, true
	return res, err
}

// CallActionFuture is the future-returning counterpart of CallAction.
func (c *Client) CallActionFuture(ctx context.Context, service, action string, body map[string]any, ctl message.Control) (*Future[*message.ActionResponse], error) {
	return c.CallActionsFutureOne(ctx, service, []message.ActionRequest{{Action: action, Body: body}}, ctl)
}

// CallActionsFutureOne mirrors CallActionFuture for a pre-built single
// action list (kept distinct from CallActionsFuture, which returns a whole
// JobResponse future rather than the first action).
func (c *Client) CallActionsFutureOne(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) (*Future[*message.ActionResponse], error) {
	jobFuture, err := c.CallActionsFuture(ctx, service, actions, ctl)
	if err != nil {
		return nil, err
	}
	return newFuture(func(ctx context.Context, timeout time.Duration) (*message.ActionResponse, error) {
		jr, err := jobFuture.Result(ctx, timeout)
		if err != nil {
			return nil, err
		}
		if jr == nil || len(jr.Actions) == 0 {
			return nil, nil
		}
		return &jr.Actions[0], nil
	}), nil
}

// CallActionsFuture is the future-returning counterpart of CallActions: the
// job is sent immediately; Result blocks for the response.
func (c *Client) CallActionsFuture(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) (*Future[*message.JobResponse], error) {
	requestID, err := c.sendJob(ctx, service, actions, ctl, callerContext(ctx), nil)
	if err != nil {
		return nil, err
	}
	names := expansionNames(ctx)
	resolvedCtx := c.resolveContext(callerContext(ctx), nil)
	return newFuture(func(ctx context.Context, timeout time.Duration) (*message.JobResponse, error) {
		jr, err := c.awaitResponse(ctx, service, requestID, timeout)
		if err != nil {
			return nil, err
		}
		if c.expander != nil {
			if err := c.expander.Expand(ctx, jr, names, resolvedCtx); err != nil {
				return jr, err
			}
		}
		if err := c.raiseIfConfigured(jr); err != nil {
			return jr, err
		}
		return jr, nil
	}), nil
}

// CallActionsParallelFuture is the future-returning counterpart of
// CallActionsParallel.
func (c *Client) CallActionsParallelFuture(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) (*Future[[]*message.ActionResponse], error) {
	jobs := make([]JobSpec, len(actions))
	for i, a := range actions {
		jobs[i] = JobSpec{Service: service, Actions: []message.ActionRequest{a}}
	}
	return c.CallJobsParallelFuture(ctx, jobs, ctl)
}

// CallJobsParallelFuture is the future-returning counterpart of
// CallJobsParallel: every job is sent immediately; Result blocks for all
// responses together.
func (c *Client) CallJobsParallelFuture(ctx context.Context, jobs []JobSpec, ctl message.Control) (*Future[[]*message.JobResponse], error) {
	// This reuses the same send-then-await split as
	// CallJobsParallel, just deferring the await half into Result.
	callerCtx := callerContext(ctx)
	type slot struct {
		requestID int
		service   string
		err       error
	}
	slots := make([]slot, len(jobs))
	for i, j := range jobs {
		rid, err := c.sendJob(ctx, j.Service, j.Actions, ctl, callerCtx, nil)
		slots[i] = slot{requestID: rid, service: j.Service, err: err}
	}

	return newFuture(func(ctx context.Context, timeout time.Duration) ([]*message.JobResponse, error) {
		results := make([]*message.JobResponse, len(slots))
		errs := make([]error, len(slots))
		var wg sync.WaitGroup
		for i, s := range slots {
			if s.err != nil {
				errs[i] = s.err
				continue
			}
			wg.Add(1)
			go func(i int, s slot) {
				defer wg.Done()
				jr, err := c.awaitResponse(ctx, s.service, s.requestID, timeout)
				if err != nil {
					errs[i] = err
					return
				}
				results[i] = jr
			}(i, s)
		}
		wg.Wait()

		var firstErr error
		caught := make([]bool, len(slots))
		for i, err := range errs {
			if err == nil {
				continue
			}
			if c.cfg.CatchTransportErrors {
				results[i] = &message.JobResponse{Errors: []message.Error{{Code: "TRANSPORT_ERROR", Message: err.Error()}}}
				caught[i] = true
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return results, firstErr
		}
		for i, jr := range results {
			if jr == nil || caught[i] {
				continue
			}
			if err := c.raiseIfConfigured(jr); err != nil {
				return results, err
			}
		}
		return results, nil
	}), nil
}
