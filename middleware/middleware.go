// Package middleware implements the onion-model composition contract
// shared by the client and server engines (§4.4): each side composes an
// ordered stack of wrappers around a base callable — one stack for client
// request processing, one for client response processing, one for server
// job processing, one for server action dispatch.
//
// The four stacks differ only in the concrete Req/Resp types they carry
// (*message.JobRequest for the server job stack, an action-call type for
// the server action stack, and so on), so this package expresses the
// contract once with generics rather than once per stack, the way the
// teacher expressed it once for its single RPCMessage-shaped HandlerFunc.
// Construction happens once per client/server lifetime; the composed chain
// is then reused concurrently, so every middleware here must be safe for
// concurrent HandlerFunc invocation.
package middleware

import "context"

// HandlerFunc is a single link in the chain: the business logic, or the
// next middleware down, wrapped to the same signature.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Middleware wraps a HandlerFunc with additional behavior. It MUST NOT
// change what Req/Resp mean to callers; it MAY short-circuit by returning
// without invoking next.
type Middleware[Req, Resp any] func(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp]

// Chain composes middlewares into the onion: Chain(M1, M2, M3)(base) calls
// M1, which calls M2, which calls M3, which calls base. The first
// middleware in the list is the outermost layer — it sees the request
// first and the response last.
func Chain[Req, Resp any](middlewares ...Middleware[Req, Resp]) Middleware[Req, Resp] {
	return func(base HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
		next := base
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
