package test

import (
	"context"
	"testing"

	"actionrpc/client"
	"actionrpc/message"
	"actionrpc/server"
)

// BenchmarkCallActionRoundTrip measures one full client->Redis->server->
// Redis->client round trip for a single-action job against miniredis.
func BenchmarkCallActionRoundTrip(b *testing.B) {
	h := newHarness(b)
	h.startServer("bench", func(s *server.Server) {
		s.RegisterAction("square", squareHandler(), server.Introspection{})
	})
	c := h.newClient(client.DefaultConfig())
	ctx := context.Background()
	body := map[string]any{"number": int64(9)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.CallAction(ctx, "bench", "square", body, message.Control{}); err != nil {
			b.Fatalf("CallAction: %v", err)
		}
	}
}

// BenchmarkCallActionsParallel measures fan-out of N actions, each sent as
// its own single-action job, dispatched concurrently by the client.
func BenchmarkCallActionsParallel(b *testing.B) {
	h := newHarness(b)
	h.startServer("bench", func(s *server.Server) {
		s.RegisterAction("square", squareHandler(), server.Introspection{})
	})
	c := h.newClient(client.DefaultConfig())
	ctx := context.Background()

	actions := make([]message.ActionRequest, 8)
	for i := range actions {
		actions[i] = message.ActionRequest{Action: "square", Body: map[string]any{"number": int64(i)}}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.CallActionsParallel(ctx, "bench", actions, message.Control{}); err != nil {
			b.Fatalf("CallActionsParallel: %v", err)
		}
	}
}
