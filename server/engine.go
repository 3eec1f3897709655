package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"actionrpc/client"
	"actionrpc/envelope"
	"actionrpc/message"
	"actionrpc/middleware"
	"actionrpc/transport"
)

// JobMiddleware wraps the whole process-one-job call.
type JobMiddleware = middleware.Middleware[*message.JobRequest, *message.JobResponse]

// ActionMiddleware wraps dispatch of a single action to its handler.
type ActionMiddleware = middleware.Middleware[*ActionCall, *message.ActionResponse]

// JobValidator is the external request/response schema validation engine
// (§1 "Out of scope: external collaborators") reduced to the pass/fail,
// field-errors contract the server needs: nil means "no validation
// configured", not "always passes".
type JobValidator func(jr *message.JobRequest) []message.Error

// ResponseValidator is the response-half of the same external validator,
// called per action with the body the handler returned.
type ResponseValidator func(action string, body map[string]any) []message.Error

// Hooks are the server lifecycle extension points named throughout §4.6.
type Hooks struct {
	Setup                     func(ctx context.Context)
	Teardown                  func(ctx context.Context)
	PerformIdleActions        func(ctx context.Context)
	PerformPreRequestActions  func(ctx context.Context, jr *message.JobRequest)
	PerformPostRequestActions func(ctx context.Context, jr *message.JobRequest, resp *message.JobResponse)
}

// Config collects the server engine's tunables.
type Config struct {
	IdleActionInterval time.Duration
	ReceiveErrorBackoff time.Duration

	// HarakiriTimeout bounds how long a single job may take before the
	// watchdog fires (§4.6 "Signals"). Zero disables it.
	HarakiriTimeout time.Duration

	// HeartbeatPathTemplate may contain {pid} and {fid} (fork index).
	// Empty disables the heartbeat file.
	HeartbeatPathTemplate string

	ProtocolVersion envelope.Version
}

// DefaultConfig returns the server-side defaults.
func DefaultConfig() Config {
	return Config{
		IdleActionInterval:  5 * time.Second,
		ReceiveErrorBackoff: time.Second,
		ProtocolVersion:     envelope.Version3,
	}
}

// ClientFactory builds the nested client a handler's ActionCall carries,
// with the job's context already propagated (§4.6).
type ClientFactory func(ctx context.Context, callerCtx message.Context) *client.Client

// Server is the run loop and action dispatcher of §4.6: one instance
// handles one named service; run one per OS process/worker (see
// Supervisor for multi-worker forking).
type Server struct {
	ServiceName string

	transport *transport.ServerTransport
	handlers  map[string]HandlerFactory
	introspect map[string]Introspection

	jobMW    JobMiddleware
	actionMW ActionMiddleware

	validator         JobValidator
	responseValidator ResponseValidator
	clientFactory     ClientFactory

	log *zap.Logger
	cfg Config

	shuttingDown atomic.Bool
	hooks        Hooks
}

// Option configures a Server at construction time.
type Option func(*Server)

func WithJobMiddleware(mw ...JobMiddleware) Option {
	return func(s *Server) { s.jobMW = middleware.Chain(mw...) }
}

func WithActionMiddleware(mw ...ActionMiddleware) Option {
	return func(s *Server) { s.actionMW = middleware.Chain(mw...) }
}

func WithValidator(v JobValidator) Option { return func(s *Server) { s.validator = v } }

func WithResponseValidator(v ResponseValidator) Option {
	return func(s *Server) { s.responseValidator = v }
}

func WithClientFactory(f ClientFactory) Option { return func(s *Server) { s.clientFactory = f } }

func WithHooks(h Hooks) Option { return func(s *Server) { s.hooks = h } }

// New builds a Server for serviceName bound to t.
func New(serviceName string, t *transport.ServerTransport, cfg Config, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ServiceName: serviceName,
		transport:   t,
		handlers:    make(map[string]HandlerFactory),
		introspect:  make(map[string]Introspection),
		log:         log,
		cfg:         cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.jobMW == nil {
		s.jobMW = func(next middleware.HandlerFunc[*message.JobRequest, *message.JobResponse]) middleware.HandlerFunc[*message.JobRequest, *message.JobResponse] {
			return next
		}
	}
	if s.actionMW == nil {
		s.actionMW = func(next middleware.HandlerFunc[*ActionCall, *message.ActionResponse]) middleware.HandlerFunc[*ActionCall, *message.ActionResponse] {
			return next
		}
	}
	s.registerDefaultActions()
	return s
}

// RegisterAction adds a named action to the dispatch table.
func (s *Server) RegisterAction(name string, factory HandlerFactory, intro Introspection) {
	s.handlers[name] = factory
	intro.Action = name
	s.introspect[name] = intro
}

// Shutdown requests a graceful stop: the current job (if any) finishes,
// then Run returns after its next receive-timeout tick.
func (s *Server) Shutdown() { s.shuttingDown.Store(true) }

// Run is the main loop of one worker (§4.6 "Main loop"). forkIndex is 0 for
// an unforked single-worker server.
func (s *Server) Run(ctx context.Context, forkIndex int) error {
	if s.hooks.Setup != nil {
		s.hooks.Setup(ctx)
	}
	hb := newHeartbeat(s.cfg.HeartbeatPathTemplate, forkIndex)
	hb.write()
	defer hb.remove()

	idleTicker := time.NewTicker(s.idleInterval())
	defer idleTicker.Stop()

	for !s.shuttingDown.Load() {
		env, clientVersion, err := s.transport.ReceiveRequest(ctx, s.ServiceName)
		if err != nil {
			s.log.Error("receive request failed", zap.Error(err))
			time.Sleep(s.cfg.ReceiveErrorBackoff)
			continue
		}
		if env == transport.NoMessage {
			hb.write()
			select {
			case <-idleTicker.C:
				if s.hooks.PerformIdleActions != nil {
					s.hooks.PerformIdleActions(ctx)
				}
			default:
			}
			continue
		}

		if s.hooks.PerformPreRequestActions != nil {
			s.hooks.PerformPreRequestActions(ctx, env.JobRequest)
		}

		resp := s.processJobWithHarakiri(ctx, env.JobRequest)

		if !env.JobRequest.Control.SuppressResponse {
			sendErr := s.transport.SendResponse(ctx, env.Meta.ReplyTo, env.RequestID, envelope.Meta{Expiry: env.Meta.Expiry}, clientVersion, resp)
			var tooLarge *transport.ResponseTooLarge
			if errors.As(sendErr, &tooLarge) {
				sendErr = s.sendResponseTooLarge(ctx, env, clientVersion, tooLarge)
			}
			if sendErr != nil {
				s.log.Error("send response failed", zap.Error(sendErr))
			}
		}

		if s.hooks.PerformPostRequestActions != nil {
			s.hooks.PerformPostRequestActions(ctx, env.JobRequest, resp)
		}
		hb.write()
	}

	if s.hooks.Teardown != nil {
		s.hooks.Teardown(ctx)
	}
	return nil
}

// sendResponseTooLarge replaces an oversized response with a minimal error
// response the client is guaranteed to receive, so a version 1/2 client (or
// any client past MaximumMessageSizeBytes) still gets a deterministic reply
// instead of blocking until its own timeout (§4.3).
func (s *Server) sendResponseTooLarge(ctx context.Context, env *envelope.Envelope, clientVersion envelope.Version, cause *transport.ResponseTooLarge) error {
	errResp := &message.JobResponse{
		Context: env.JobRequest.Context,
		Errors:  []message.Error{{Code: "RESPONSE_TOO_LARGE", Message: cause.Error(), IsCallerError: false}},
	}
	return s.transport.SendResponse(ctx, env.Meta.ReplyTo, env.RequestID, envelope.Meta{Expiry: env.Meta.Expiry}, clientVersion, errResp)
}

func (s *Server) idleInterval() time.Duration {
	if s.cfg.IdleActionInterval > 0 {
		return s.cfg.IdleActionInterval
	}
	return 5 * time.Second
}

// processJobWithHarakiri runs processJob with the per-request watchdog
// named in §4.6 "Signals": if it doesn't finish within HarakiriTimeout, the
// worker logs every goroutine's stack and exits with harakiriExitCode so
// the supervising parent respawns it. A single job's goroutine is
// deliberately abandoned rather than canceled — the server has no
// cancellation channel once a message is dequeued (§5).
func (s *Server) processJobWithHarakiri(ctx context.Context, jr *message.JobRequest) *message.JobResponse {
	if s.cfg.HarakiriTimeout <= 0 {
		return s.processJob(ctx, jr)
	}
	done := make(chan *message.JobResponse, 1)
	go func() { done <- s.processJob(ctx, jr) }()
	select {
	case resp := <-done:
		return resp
	case <-time.After(s.cfg.HarakiriTimeout):
		s.fireHarakiri()
		return nil // unreached: fireHarakiri exits the process
	}
}

func (s *Server) fireHarakiri() {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	s.log.Error("harakiri: request exceeded timeout, exiting for respawn",
		zap.Duration("timeout", s.cfg.HarakiriTimeout),
		zap.String("stacks", string(buf[:n])))
	osExit(harakiriExitCode)
}

func (s *Server) processJob(ctx context.Context, jr *message.JobRequest) *message.JobResponse {
	handler := s.jobMW(s.dispatchActions)
	resp, err := handler(ctx, jr)
	if err != nil {
		return &message.JobResponse{
			Context: jr.Context,
			Errors:  []message.Error{{Code: "SERVER_ERROR", Message: err.Error(), IsCallerError: false}},
		}
	}
	return resp
}

func (s *Server) dispatchActions(ctx context.Context, jr *message.JobRequest) (*message.JobResponse, error) {
	if s.validator != nil {
		if errs := s.validator(jr); len(errs) > 0 {
			return &message.JobResponse{Context: jr.Context, Errors: errs}, nil
		}
	}

	resp := &message.JobResponse{Context: jr.Context}
	for _, ar := range jr.Actions {
		actionResp := s.dispatchOneAction(ctx, jr, ar)
		resp.Actions = append(resp.Actions, *actionResp)
		if len(actionResp.Errors) > 0 && !jr.Control.ContinueOnError {
			break
		}
	}
	return resp, nil
}

func (s *Server) dispatchOneAction(ctx context.Context, jr *message.JobRequest, ar message.ActionRequest) (actionResp *message.ActionResponse) {
	factory, ok := s.handlers[ar.Action]
	if !ok {
		return &message.ActionResponse{
			Action: ar.Action,
			Errors: []message.Error{{Code: "UNKNOWN_ACTION", Message: fmt.Sprintf("no handler registered for action %q", ar.Action), IsCallerError: true}},
		}
	}

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, false)
			actionResp = &message.ActionResponse{
				Action: ar.Action,
				Errors: []message.Error{{Code: "SERVER_ERROR", Message: fmt.Sprint(r), Traceback: string(buf[:n]), IsCallerError: false}},
			}
		}
	}()

	var nestedClient *client.Client
	if s.clientFactory != nil {
		nestedClient = s.clientFactory(ctx, jr.Context)
	}
	call := &ActionCall{Request: ar, Context: jr.Context, Control: jr.Control, Client: nestedClient}

	base := func(ctx context.Context, c *ActionCall) (*message.ActionResponse, error) {
		h := factory()
		body, err := h.Handle(ctx, c)
		if err != nil {
			var af *ActionFailure
			if errors.As(err, &af) {
				return &message.ActionResponse{Action: ar.Action, Errors: af.Errors}, nil
			}
			return nil, err
		}
		if s.responseValidator != nil {
			if errs := s.responseValidator(ar.Action, body); len(errs) > 0 {
				all := append([]message.Error{{Code: "RESPONSE_NOT_VALID", Message: "response failed schema validation", IsCallerError: false}}, errs...)
				return &message.ActionResponse{Action: ar.Action, Errors: all}, nil
			}
		}
		return &message.ActionResponse{Action: ar.Action, Body: body}, nil
	}

	resp, err := s.actionMW(base)(ctx, call)
	if err != nil {
		return &message.ActionResponse{
			Action: ar.Action,
			Errors: []message.Error{{Code: "SERVER_ERROR", Message: err.Error(), IsCallerError: false}},
		}
	}
	return resp
}
