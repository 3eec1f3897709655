package client

import (
	"context"
	"iter"
	"sort"
	"sync"

	"actionrpc/message"
)

// JobSpec names one job to dispatch as part of CallJobsParallel: a service
// plus the ordered actions to send it in a single job request.
type JobSpec struct {
	Service string
	Actions []message.ActionRequest
}

// CallAction builds a single-action job for action against service, blocks
// for the response, and returns that one ActionResponse. It raises
// *JobError/*CallActionError per the client's configured Raise* options
// unless the job was suppressed.
func (c *Client) CallAction(ctx context.Context, service, action string, body map[string]any, ctl message.Control) (*message.ActionResponse, error) {
	jr, err := c.CallActions(ctx, service, []message.ActionRequest{{Action: action, Body: body}}, ctl)
	if err != nil {
		return nil, err
	}
	if jr == nil || len(jr.Actions) == 0 {
		return nil, nil
	}
	return &jr.Actions[0], nil
}

// CallActions sends a single job containing actions, in order, to service
// and blocks for the response.
func (c *Client) CallActions(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) (*message.JobResponse, error) {
	timeout := c.effectiveTimeout(ctl)
	requestID, err := c.sendJob(ctx, service, actions, ctl, callerContext(ctx), nil)
	if err != nil {
		return nil, err
	}
	if ctl.SuppressResponse {
		return nil, nil
	}

	jr, err := c.awaitResponse(ctx, service, requestID, timeout)
	if err != nil {
		return nil, err
	}
	if c.expander != nil {
		if err := c.expander.Expand(ctx, jr, expansionNames(ctx), c.resolveContext(callerContext(ctx), nil)); err != nil {
			return jr, err
		}
	}
	if err := c.raiseIfConfigured(jr); err != nil {
		return jr, err
	}
	return jr, nil
}

// CallActionsParallel dispatches one single-action job per action to
// service, all in flight together, and returns the per-action responses in
// the same order as actions regardless of arrival order.
func (c *Client) CallActionsParallel(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) ([]*message.ActionResponse, error) {
	jobs := make([]JobSpec, len(actions))
	for i, a := range actions {
		jobs[i] = JobSpec{Service: service, Actions: []message.ActionRequest{a}}
	}
	jrs, err := c.CallJobsParallel(ctx, jobs, ctl)
	out := make([]*message.ActionResponse, len(jrs))
	for i, jr := range jrs {
		if jr != nil && len(jr.Actions) > 0 {
			out[i] = &jr.Actions[0]
		}
	}
	return out, err
}

// CallJobsParallel sends every job in jobs concurrently and returns their
// responses in the same order as jobs, regardless of the order responses
// actually arrive in (§4.5, S3). If CatchTransportErrors is set, a
// transport failure for one job replaces that slot with a synthetic error
// response instead of failing the whole call.
func (c *Client) CallJobsParallel(ctx context.Context, jobs []JobSpec, ctl message.Control) ([]*message.JobResponse, error) {
	timeout := c.effectiveTimeout(ctl)
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

	results := make([]*message.JobResponse, len(jobs))
	errs := make([]error, len(jobs))
	if !ctl.SuppressResponse {
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
	}

	var firstErr error
	caught := make([]bool, len(jobs))
	for i, err := range errs {
		if err == nil {
			continue
		}
		if c.cfg.CatchTransportErrors {
			results[i] = &message.JobResponse{
				Errors: []message.Error{{Code: "TRANSPORT_ERROR", Message: err.Error(), IsCallerError: false}},
			}
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
}

// SendRequest sends a job without waiting for its response and returns the
// allocated request id. The caller either ignores the response (if
// ctl.SuppressResponse is set) or retrieves it later via GetAllResponses.
func (c *Client) SendRequest(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control) (int, error) {
	return c.sendJob(ctx, service, actions, ctl, callerContext(ctx), nil)
}

// GetAllResponses lazily yields every job response buffered for service
// that has not yet been claimed by an awaiting Call — including responses
// to requests whose own Call already gave up with MessageReceiveTimeout
// (§4.5, S4). Iteration order is by ascending request id.
func (c *Client) GetAllResponses(service string) iter.Seq2[int, *message.JobResponse] {
	return func(yield func(int, *message.JobResponse) bool) {
		r := c.routerFor(service)
		buffered := r.drain()
		sort.Slice(buffered, func(i, j int) bool { return buffered[i].requestID < buffered[j].requestID })
		for _, b := range buffered {
			if b.resp.err != nil || b.resp.env == nil {
				continue
			}
			if !yield(b.requestID, b.resp.env.JobResponse) {
				return
			}
		}
	}
}

type contextKey int

const callerContextKey contextKey = iota
const expansionNamesKey contextKey = iota + 1

// WithCallerContext attaches the propagated server-side Context to ctx, so
// a nested client constructed inside a handler carries correlation id and
// switches through to the calls it makes.
func WithCallerContext(ctx context.Context, callerCtx message.Context) context.Context {
	return context.WithValue(ctx, callerContextKey, callerCtx)
}

func callerContext(ctx context.Context) *message.Context {
	v, ok := ctx.Value(callerContextKey).(message.Context)
	if !ok {
		return nil
	}
	return &v
}

// WithExpansionNames attaches the expansion names the caller wants applied
// to the next call's response (§4.5 "Expansions", step 2).
func WithExpansionNames(ctx context.Context, names ...string) context.Context {
	return context.WithValue(ctx, expansionNamesKey, names)
}

func expansionNames(ctx context.Context) []string {
	names, _ := ctx.Value(expansionNamesKey).([]string)
	return names
}
