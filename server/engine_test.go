package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"actionrpc/envelope"
	"actionrpc/message"
	"actionrpc/serializer"
	"actionrpc/transport"
)

func newTestHarness(t *testing.T) (*transport.ClientTransport, *transport.ServerTransport, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	backend := transport.NewStandaloneBackend(transport.Endpoint{Addr: mr.Addr()})
	s := serializer.NewBinary()
	ct := transport.NewClientTransport(backend, s, transport.ClientDefaults(), nil)
	st := transport.NewServerTransport(backend, s, transport.ServerDefaults(), nil)
	return ct, st, func() { backend.Close() }
}

func sendJob(t *testing.T, ct *transport.ClientTransport, jr *message.JobRequest) string {
	t.Helper()
	replyTo := "service:adder.test-client!"
	meta := envelope.Meta{ReplyTo: replyTo, Expiry: time.Now().Add(time.Minute).Unix()}
	if err := ct.Send(context.Background(), "adder", 1, meta, jr); err != nil {
		t.Fatalf("Send: %v", err)
	}
	return replyTo
}

func TestRunHappyPathOneAction(t *testing.T) {
	ct, st, cleanup := newTestHarness(t)
	defer cleanup()

	srv := New("adder", st, DefaultConfig(), nil)
	srv.RegisterAction("square", func() Handler {
		return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
			n := call.Request.Body["number"].(int64)
			return map[string]any{"square": n * n}, nil
		})
	}, Introspection{Description: "squares a number"})

	jr := &message.JobRequest{
		Context: message.Context{CorrelationID: "abc"},
		Actions: []message.ActionRequest{{Action: "square", Body: map[string]any{"number": int64(7)}}},
	}
	replyTo := sendJob(t, ct, jr)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Run(ctx, 0)
		close(done)
	}()

	env, err := ct.Receive(context.Background(), replyTo, 2*time.Second)
	if err != nil {
		t.Fatalf("receive response: %v", err)
	}
	srv.Shutdown()
	<-done

	resp := env.JobResponse
	if len(resp.Actions) != 1 || resp.Actions[0].Body["square"] != int64(49) {
		t.Fatalf("unexpected response: %+v", resp.Actions)
	}
	if len(resp.Actions[0].Errors) != 0 {
		t.Fatalf("expected no errors, got %+v", resp.Actions[0].Errors)
	}
}

func TestDispatchContinueOnErrorFalseStopsEarly(t *testing.T) {
	srv := New("adder", nil, DefaultConfig(), nil)
	srv.RegisterAction("square", func() Handler {
		return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
			n := call.Request.Body["number"].(int64)
			if n < 0 {
				return nil, &ActionFailure{Errors: []message.Error{{Code: "INVALID", Field: "number", IsCallerError: true}}}
			}
			return map[string]any{"square": n * n}, nil
		})
	}, Introspection{})

	jr := &message.JobRequest{
		Actions: []message.ActionRequest{
			{Action: "square", Body: map[string]any{"number": int64(3)}},
			{Action: "square", Body: map[string]any{"number": int64(-1)}},
			{Action: "square", Body: map[string]any{"number": int64(4)}},
		},
		Control: message.Control{ContinueOnError: false},
	}
	resp := srv.processJob(context.Background(), jr)
	if len(resp.Actions) != 2 {
		t.Fatalf("expect 2 action responses, got %d", len(resp.Actions))
	}
	if len(resp.Actions[0].Errors) != 0 {
		t.Fatalf("first action should have no errors: %+v", resp.Actions[0])
	}
	if len(resp.Actions[1].Errors) == 0 || resp.Actions[1].Errors[0].Code != "INVALID" {
		t.Fatalf("second action should carry INVALID: %+v", resp.Actions[1])
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	srv := New("adder", nil, DefaultConfig(), nil)
	jr := &message.JobRequest{Actions: []message.ActionRequest{{Action: "nope"}}}
	resp := srv.processJob(context.Background(), jr)
	if len(resp.Actions) != 1 || resp.Actions[0].Errors[0].Code != "UNKNOWN_ACTION" {
		t.Fatalf("expect UNKNOWN_ACTION, got %+v", resp.Actions)
	}
}

func TestDefaultIntrospectAndStatusActions(t *testing.T) {
	srv := New("adder", nil, DefaultConfig(), nil)
	srv.RegisterAction("square", func() Handler {
		return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
			return nil, nil
		})
	}, Introspection{Description: "squares"})
	srv.registerDefaultActions()

	jr := &message.JobRequest{Actions: []message.ActionRequest{{Action: "status"}, {Action: "introspect"}}}
	resp := srv.processJob(context.Background(), jr)
	if len(resp.Actions) != 2 {
		t.Fatalf("expect 2 responses, got %d", len(resp.Actions))
	}
	if resp.Actions[0].Body["healthy"] != true {
		t.Fatalf("status should report healthy: %+v", resp.Actions[0].Body)
	}
	actions, _ := resp.Actions[1].Body["actions"].([]map[string]any)
	if len(actions) != 3 {
		t.Fatalf("introspect should list square plus the two default actions, got %+v", actions)
	}
}

func TestRunSendsResponseTooLargeErrorInsteadOfDroppingReply(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := transport.NewStandaloneBackend(transport.Endpoint{Addr: mr.Addr()})
	defer backend.Close()

	s := serializer.NewBinary()
	ct := transport.NewClientTransport(backend, s, transport.ClientDefaults(), nil)
	cfg := transport.ServerDefaults()
	cfg.MaximumMessageSizeBytes = 200
	cfg.ChunkMessagesLargerThanBytes = 1024 * 1024
	st := transport.NewServerTransport(backend, s, cfg, nil)

	srv := New("adder", st, DefaultConfig(), nil)
	srv.RegisterAction("echo", func() Handler {
		return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
			return map[string]any{"text": strings.Repeat("y", 1024)}, nil
		})
	}, Introspection{})

	jr := &message.JobRequest{
		Context: message.Context{CorrelationID: "abc"},
		Actions: []message.ActionRequest{{Action: "echo"}},
	}
	replyTo := sendJob(t, ct, jr)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Run(ctx, 0)
		close(done)
	}()

	env, err := ct.Receive(context.Background(), replyTo, 2*time.Second)
	srv.Shutdown()
	<-done
	if err != nil {
		t.Fatalf("expected a deterministic error reply, got transport error: %v", err)
	}
	if len(env.JobResponse.Errors) != 1 || env.JobResponse.Errors[0].Code != "RESPONSE_TOO_LARGE" {
		t.Fatalf("expect RESPONSE_TOO_LARGE error response, got %+v", env.JobResponse)
	}
}

func TestHarakiriFiresOnTimeout(t *testing.T) {
	var exitCode int
	orig := osExit
	osExit = func(code int) { exitCode = code; panic("harakiri-exit") }
	defer func() { osExit = orig }()

	cfg := DefaultConfig()
	cfg.HarakiriTimeout = 20 * time.Millisecond
	srv := New("adder", nil, cfg, nil)
	srv.RegisterAction("slow", func() Handler {
		return HandlerFunc(func(ctx context.Context, call *ActionCall) (map[string]any, error) {
			time.Sleep(200 * time.Millisecond)
			return map[string]any{}, nil
		})
	}, Introspection{})

	jr := &message.JobRequest{Actions: []message.ActionRequest{{Action: "slow"}}}

	defer func() {
		r := recover()
		if r != "harakiri-exit" {
			t.Fatalf("expected harakiri-exit panic, got %v", r)
		}
		if exitCode != harakiriExitCode {
			t.Fatalf("expected exit code %d, got %d", harakiriExitCode, exitCode)
		}
	}()
	srv.processJobWithHarakiri(context.Background(), jr)
	t.Fatal("expected harakiri to fire before reaching here")
}
