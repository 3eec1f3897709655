// Package server implements the run loop described in §4.6: dequeuing
// jobs for a single named service, dispatching their actions to registered
// handlers through the middleware onion, and managing worker lifecycle
// (forking, respawn, harakiri, graceful shutdown).
//
// This replaces the teacher's reflection-based package wholesale: the
// teacher's service.go scanned a registered struct's exported methods by
// reflect.Type for the func(*Args, *Reply) error shape and dispatched by
// name via reflect.Value.Call. This spec's action handlers are not
// arbitrary struct methods — they're named units with a flat map body, so
// dispatch-by-name becomes a plain map[string]HandlerFactory instead of
// reflection, and the "methodType" bookkeeping the teacher needed to keep
// ArgType/ReplyType straight across reflect.New calls has no counterpart:
// the action body is already a map[string]any on the wire.
package server

import (
	"context"
	"fmt"

	"actionrpc/client"
	"actionrpc/message"
)

// ActionCall is the enriched request a registered Handler receives: the
// action name/body, the job's context and control, and a client handle
// configured for the server's outbound routing with the job's context
// already propagated (§4.6 "Invoke the action middleware onion...").
type ActionCall struct {
	Request message.ActionRequest
	Context message.Context
	Control message.Control
	Client  *client.Client
}

// Handler is one registered action. Handlers are constructed fresh per
// dispatch via a HandlerFactory, the counterpart of the source's mixin
// action classes instantiated per request (§9 "Mixin-based action
// classes... model this as a small handler registration record").
type Handler interface {
	Handle(ctx context.Context, call *ActionCall) (map[string]any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, call *ActionCall) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, call *ActionCall) (map[string]any, error) {
	return f(ctx, call)
}

// HandlerFactory constructs a fresh Handler for one dispatch. A factory
// that always returns the same stateless Handler is the common case; one
// that allocates per call is how per-request state (e.g. an opened
// resource) is modeled without a handler needing its own locking.
type HandlerFactory func() Handler

// ActionFailure is returned by a Handler to report one or more validation
// or business-rule errors without crashing the worker (§7, replacing the
// source's exception-driven control flow with a typed result at the
// handler boundary per §9).
type ActionFailure struct {
	Errors []message.Error
}

func (e *ActionFailure) Error() string {
	if len(e.Errors) == 0 {
		return "action failure"
	}
	return fmt.Sprintf("action failure: %s", e.Errors[0].Error())
}

// Introspection describes one registered action for the default
// "introspect" action (§4.6).
type Introspection struct {
	Action      string
	Description string
}
