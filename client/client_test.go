package client

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"actionrpc/envelope"
	"actionrpc/message"
	"actionrpc/serializer"
	"actionrpc/transport"
)

// newTestClient wires a Client directly to a miniredis-backed transport and
// starts a trivial square-number server loop on service "calculator", so
// call tests exercise the real send/receive path end to end.
func newTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	backend := transport.NewStandaloneBackend(transport.Endpoint{Addr: mr.Addr()})
	s := serializer.NewBinary()

	ct := transport.NewClientTransport(backend, s, transport.ClientDefaults(), nil)
	st := transport.NewServerTransport(backend, s, transport.ServerDefaults(), nil)

	stop := make(chan struct{})
	go fakeServerLoop(st, stop)

	c := New(ct, DefaultConfig(), nil)
	return c, func() { close(stop); backend.Close(); c.Close() }
}

// fakeServerLoop answers "square" actions and otherwise echoes UNKNOWN_ACTION,
// stopping at that error unless continue_on_error is set, just enough to
// exercise the client engine's send/await path.
func fakeServerLoop(st *transport.ServerTransport, stop <-chan struct{}) {
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}
		env, version, err := st.ReceiveRequest(ctx, "calculator")
		if err != nil || env == transport.NoMessage {
			continue
		}
		resp := &message.JobResponse{Context: env.JobRequest.Context}
	actions:
		for _, a := range env.JobRequest.Actions {
			switch a.Action {
			case "square":
				n, _ := a.Body["number"].(int64)
				resp.Actions = append(resp.Actions, message.ActionResponse{Action: a.Action, Body: map[string]any{"square": n * n}})
			case "slow":
				time.Sleep(300 * time.Millisecond)
				resp.Actions = append(resp.Actions, message.ActionResponse{Action: a.Action, Body: map[string]any{"ok": true}})
			default:
				resp.Actions = append(resp.Actions, message.ActionResponse{
					Action: a.Action,
					Errors: []message.Error{{Code: "UNKNOWN_ACTION", IsCallerError: true}},
				})
				if !env.JobRequest.Control.ContinueOnError {
					break actions
				}
			}
		}
		if env.JobRequest.Control.SuppressResponse {
			continue
		}
		_ = st.SendResponse(ctx, env.Meta.ReplyTo, env.RequestID, envelope.Meta{Expiry: env.Meta.Expiry}, version, resp)
	}
}

func TestCallActionHappyPath(t *testing.T) {
	c, stop := newTestClient(t)
	defer stop()

	resp, err := c.CallAction(context.Background(), "calculator", "square", map[string]any{"number": int64(7)}, message.Control{})
	if err != nil {
		t.Fatalf("CallAction failed: %v", err)
	}
	if resp.Body["square"] != int64(49) {
		t.Fatalf("expect square=49, got %v", resp.Body)
	}
}

func TestCallActionsContinueOnErrorFalseStopsEarly(t *testing.T) {
	c, stop := newTestClient(t)
	defer stop()
	c.cfg.RaiseActionErrors = false

	jr, err := c.CallActions(context.Background(), "calculator", []message.ActionRequest{
		{Action: "square", Body: map[string]any{"number": int64(3)}},
		{Action: "bogus"},
		{Action: "square", Body: map[string]any{"number": int64(4)}},
	}, message.Control{ContinueOnError: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jr.Actions) != 2 {
		t.Fatalf("expect 2 action responses, got %d", len(jr.Actions))
	}
	if len(jr.Actions[0].Errors) != 0 {
		t.Fatalf("first action should have no errors, got %+v", jr.Actions[0].Errors)
	}
	if len(jr.Actions[1].Errors) == 0 {
		t.Fatal("second action should carry the UNKNOWN_ACTION error")
	}
}

func TestCallJobsParallelPreservesOrder(t *testing.T) {
	c, stop := newTestClient(t)
	defer stop()

	jobs := []JobSpec{
		{Service: "calculator", Actions: []message.ActionRequest{{Action: "square", Body: map[string]any{"number": int64(2)}}}},
		{Service: "calculator", Actions: []message.ActionRequest{{Action: "square", Body: map[string]any{"number": int64(3)}}}},
	}
	results, err := c.CallJobsParallel(context.Background(), jobs, message.Control{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Actions[0].Body["square"] != int64(4) {
		t.Fatalf("expect first job square=4, got %+v", results[0])
	}
	if results[1].Actions[0].Body["square"] != int64(9) {
		t.Fatalf("expect second job square=9, got %+v", results[1])
	}
}

func TestCallActionTimeoutThenGetAllResponses(t *testing.T) {
	c, stop := newTestClient(t)
	defer stop()

	ctl := message.Control{TimeoutSeconds: floatPtr(0.05)}
	_, err := c.CallAction(context.Background(), "calculator", "slow", nil, ctl)
	if err == nil {
		t.Fatal("expect a timeout error")
	}

	// The slow handler takes 300ms; give it time to land on the reply-to
	// key even though the original Call already gave up.
	time.Sleep(400 * time.Millisecond)

	found := false
	for _, jr := range c.GetAllResponses("calculator") {
		if jr.Actions[0].Action == "slow" {
			found = true
		}
	}
	if !found {
		t.Fatal("expect the late response to be retrievable via GetAllResponses")
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestCallActionFuture(t *testing.T) {
	c, stop := newTestClient(t)
	defer stop()

	future, err := c.CallActionFuture(context.Background(), "calculator", "square", map[string]any{"number": int64(5)}, message.Control{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if future.Done() {
		t.Fatal("future should not be done before Result is called")
	}
	resp, err := future.Result(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body["square"] != int64(25) {
		t.Fatalf("expect square=25, got %+v", resp.Body)
	}
	if !future.Done() {
		t.Fatal("future should be done after a successful Result")
	}
}
