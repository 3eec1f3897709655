package server

import (
	"context"
	"os"
)

// harakiriExitCode is the distinct process exit code §4.6/§7 requires so an
// orchestrator can tell a harakiri exit apart from a normal one. The
// Supervisor counts it like any other abnormal exit: it respawns the worker
// unless NoRespawn is set or the crash budget is spent.
const harakiriExitCode = 70

// osExit is os.Exit indirected through a var so fireHarakiri is callable
// from a test without actually terminating the test binary.
var osExit = os.Exit

// registerDefaultActions registers "introspect" and "status" unless the
// caller already registered its own handler for either name (§4.6).
func (s *Server) registerDefaultActions() {
	if _, ok := s.handlers["introspect"]; !ok {
		s.RegisterAction("introspect", func() Handler {
			return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
				actions := make([]map[string]any, 0, len(s.introspect))
				for _, info := range s.introspect {
					actions = append(actions, map[string]any{
						"action":      info.Action,
						"description": info.Description,
					})
				}
				return map[string]any{"actions": actions}, nil
			})
		}, Introspection{Description: "Lists the actions registered on this service."})
	}

	if _, ok := s.handlers["status"]; !ok {
		s.RegisterAction("status", func() Handler {
			return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
				return map[string]any{"healthy": true, "service": s.ServiceName}, nil
			})
		}, Introspection{Description: "Reports whether this service is healthy."})
	}
}

// StatusBody is the shape the default "status" action returns, named for
// callers that want to decode it without hand-rolling the map keys.
type StatusBody struct {
	Healthy bool   `json:"healthy"`
	Service string `json:"service"`
}
