// Package client implements the engine described in §4.5: it builds job
// requests, sends them over a transport.ClientTransport, correlates
// responses by request id, and exposes both blocking and future-style call
// APIs plus response-tree expansion.
//
// This replaces the teacher's client package wholesale: the teacher dialed
// a TCP address, chose a server instance via registry+loadbalance, and
// multiplexed one connection per address with a recvLoop draining into a
// sync.Map of pending channels keyed by sequence number. The Redis Gateway
// transport has no registry or connection pool to pick from — service and
// reply-to are static Redis keys (§4.3) — so the counterpart of "which
// connection routes this response" becomes "which service's reply-to list
// routes this response", and the counterpart of the teacher's recvLoop is
// the serviceRouter goroutine in router.go: one per service, BLPOPing that
// service's reply-to key and dispatching by request id to whichever Call
// is waiting, or buffering the response for get_all_responses/a late
// future if nobody is.
package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"actionrpc/envelope"
	"actionrpc/message"
	"actionrpc/middleware"
	"actionrpc/transport"
)

// RequestMiddleware wraps the client's outgoing send. Req carries the job
// about to be dispatched; Resp is the allocated request id.
type RequestMiddleware = middleware.Middleware[*Request, int]

// ResponseMiddleware wraps processing of a job response the client has
// just received, before it is handed back to the caller (and before
// expansions run).
type ResponseMiddleware = middleware.Middleware[*message.JobResponse, *message.JobResponse]

// Request is the base callable's input for the client request middleware
// stack: everything needed to frame and enqueue one job.
type Request struct {
	Service string
	Job     *message.JobRequest
}

// JobError is raised when a job response carries top-level errors and the
// client is configured to raise them (§4.5, §7).
type JobError struct {
	Errors []message.Error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job error: %d error(s), first: %s", len(e.Errors), firstErrorText(e.Errors))
}

// CallActionError is raised when any action in a response carries errors
// and the client is configured to raise them (§4.5, §7).
type CallActionError struct {
	Actions []message.ActionResponse
}

func (e *CallActionError) Error() string {
	for _, a := range e.Actions {
		if len(a.Errors) > 0 {
			return fmt.Sprintf("call action error: action %q: %s", a.Action, firstErrorText(a.Errors))
		}
	}
	return "call action error"
}

func firstErrorText(errs []message.Error) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0].Error()
}

// Config collects the per-client tunables from §4.5.
type Config struct {
	// DefaultTimeout is used for any call whose Control.TimeoutSeconds is
	// unset. Defaults to 5s if zero.
	DefaultTimeout time.Duration

	// ExpiryBuffer is added to the effective timeout when computing the
	// envelope's __expiry__, so the server doesn't discard a request the
	// instant the client's own deadline fires.
	ExpiryBuffer time.Duration

	// RaiseJobErrors, when true (the default), makes a job response with
	// top-level errors surface as a *JobError instead of being returned
	// silently for the caller to inspect.
	RaiseJobErrors bool

	// RaiseActionErrors, when true (the default), makes any action
	// response with non-empty errors surface as a *CallActionError.
	RaiseActionErrors bool

	// CatchTransportErrors, when true, makes the parallel call variants
	// replace a failed slot with a synthetic error response instead of
	// failing the whole call.
	CatchTransportErrors bool

	// RouterPollInterval bounds each individual BLPOP the service router
	// issues while waiting for the next response; it does not bound how
	// long a particular Call waits (that's governed by the call's own
	// timeout), only how promptly the router notices client shutdown.
	RouterPollInterval time.Duration

	ProtocolVersion envelope.Version
}

// DefaultConfig returns the client-side defaults named in §4.5.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:       5 * time.Second,
		ExpiryBuffer:         2 * time.Second,
		RaiseJobErrors:       true,
		RaiseActionErrors:    true,
		CatchTransportErrors: false,
		RouterPollInterval:   2 * time.Second,
		ProtocolVersion:      envelope.Version3,
	}
}

// Client is the RPC client engine of §4.5. It is safe for concurrent use
// from multiple goroutines: request ids are allocated atomically and all
// per-call state is scoped to the calling goroutine or to the per-service
// router, never to package-global state.
type Client struct {
	transport *transport.ClientTransport
	cfg       Config
	log       *zap.Logger
	clientID  string

	requestIDBase    int64
	requestIDCounter int64

	baseContext message.Context

	requestMW  RequestMiddleware
	responseMW ResponseMiddleware

	expander *Expander

	mu      sync.Mutex
	routers map[string]*serviceRouter
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithRequestMiddleware installs the client request middleware stack.
func WithRequestMiddleware(mw ...middleware.Middleware[*Request, int]) Option {
	return func(c *Client) { c.requestMW = middleware.Chain(mw...) }
}

// WithResponseMiddleware installs the client response middleware stack.
func WithResponseMiddleware(mw ...ResponseMiddleware) Option {
	return func(c *Client) { c.responseMW = middleware.Chain(mw...) }
}

// WithExpansions configures the response-tree expansion engine (§4.5
// "Expansions").
func WithExpansions(cfg ExpansionConfig) Option {
	return func(c *Client) { c.expander = newExpander(cfg, c) }
}

// WithBaseContext seeds the correlation id and switches propagated to every
// call this client makes, absent a per-call override. A server handler
// constructs its nested client with the context of the job it is handling
// so correlation ids and switches propagate transitively (§3 Context).
func WithBaseContext(ctx message.Context) Option {
	return func(c *Client) { c.baseContext = ctx }
}

// New builds a Client bound to t. It generates the client instance uuid
// used in its reply-to keys (§4.3's key naming).
func New(t *transport.ClientTransport, cfg Config, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		transport: t,
		cfg:       cfg,
		log:       log,
		clientID:  uuid.NewString(),
		// A random base reduces collision on log search across client
		// processes/restarts; wraparound within one process's lifetime is
		// not a practical concern at 63 bits of headroom (§9 open question).
		requestIDBase: rand.Int63n(1 << 40),
		baseContext:   message.Context{CorrelationID: uuid.NewString()},
		routers:       make(map[string]*serviceRouter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.requestMW == nil {
		c.requestMW = func(next middleware.HandlerFunc[*Request, int]) middleware.HandlerFunc[*Request, int] { return next }
	}
	if c.responseMW == nil {
		c.responseMW = func(next middleware.HandlerFunc[*message.JobResponse, *message.JobResponse]) middleware.HandlerFunc[*message.JobResponse, *message.JobResponse] {
			return next
		}
	}
	return c
}

// nextRequestID allocates the next monotonically increasing request id for
// this client instance.
func (c *Client) nextRequestID() int {
	return int(c.requestIDBase + atomic.AddInt64(&c.requestIDCounter, 1))
}

func (c *Client) effectiveTimeout(ctl message.Control) time.Duration {
	if ctl.TimeoutSeconds != nil {
		return time.Duration(*ctl.TimeoutSeconds * float64(time.Second))
	}
	if c.cfg.DefaultTimeout > 0 {
		return c.cfg.DefaultTimeout
	}
	return 5 * time.Second
}

// resolveContext merges callerCtx (nil for a top-level caller) with the
// client's base context: correlation id is inherited from the caller if
// present, else from the client's base (§4.5); switches are set-unioned.
func (c *Client) resolveContext(callerCtx *message.Context, extraSwitches []int) message.Context {
	out := c.baseContext
	if callerCtx != nil {
		out.CorrelationID = callerCtx.CorrelationID
		out.Switches = out.UnionSwitches(callerCtx.Switches)
	}
	out.Switches = out.UnionSwitches(extraSwitches)
	return out
}

func (c *Client) replyToKey(service string) string {
	return transport.ReplyToKey(service, c.clientID)
}

// sendJob builds, validates, and enqueues one job, returning the request
// id the response will carry. When ctl.SuppressResponse is true, no
// reply-to key is attached and the returned request id is still valid for
// bookkeeping but nothing will ever arrive for it (§3 Control, §8
// invariant 9).
func (c *Client) sendJob(ctx context.Context, service string, actions []message.ActionRequest, ctl message.Control, callerCtx *message.Context, extraSwitches []int) (int, error) {
	jobCtx := c.resolveContext(callerCtx, extraSwitches)
	requestID := c.nextRequestID()
	jobCtx.RequestID = requestID

	jr := &message.JobRequest{
		Actions: actions,
		Context: jobCtx,
		Control: ctl,
	}
	if err := jr.Validate(); err != nil {
		return 0, err
	}

	timeout := c.effectiveTimeout(ctl)
	meta := envelope.Meta{Expiry: time.Now().Add(timeout + c.cfg.ExpiryBuffer).Unix()}
	if !ctl.SuppressResponse {
		meta.ReplyTo = c.replyToKey(service)
	}

	send := func(ctx context.Context, req *Request) (int, error) {
		return requestID, c.transport.Send(ctx, req.Service, requestID, meta, req.Job)
	}
	handler := c.requestMW(send)
	return handler(ctx, &Request{Service: service, Job: jr})
}

// awaitResponse blocks until the response for requestID on service arrives,
// the caller's ctx is canceled, or timeout elapses.
func (c *Client) awaitResponse(ctx context.Context, service string, requestID int, timeout time.Duration) (*message.JobResponse, error) {
	env, err := c.routerFor(service).await(ctx, requestID, timeout)
	if err != nil {
		return nil, err
	}
	handler := c.responseMW(func(ctx context.Context, jr *message.JobResponse) (*message.JobResponse, error) { return jr, nil })
	return handler(ctx, env.JobResponse)
}

// raiseIfConfigured applies the RaiseJobErrors/RaiseActionErrors contract
// to a successfully-received job response.
func (c *Client) raiseIfConfigured(jr *message.JobResponse) error {
	if c.cfg.RaiseJobErrors && len(jr.Errors) > 0 {
		return &JobError{Errors: jr.Errors}
	}
	if c.cfg.RaiseActionErrors {
		for _, a := range jr.Actions {
			if len(a.Errors) > 0 {
				return &CallActionError{Actions: jr.Actions}
			}
		}
	}
	return nil
}
