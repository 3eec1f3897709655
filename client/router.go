package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"actionrpc/envelope"
	"actionrpc/transport"
)

// serviceRouter owns the single BLPOP loop for one service's reply-to key.
// Responses to multiple concurrent calls against the same service arrive on
// that one list, so exactly one goroutine may BLPOP it; serviceRouter plays
// the role the teacher's ClientTransport.recvLoop played for a multiplexed
// TCP connection, dispatching by request id instead of by sequence number.
//
// A response that arrives with nobody currently waiting (because the
// waiting call already timed out, per §4.5's Future/timeout contract, or
// because nobody ever called anything but get_all_responses) is kept in
// received until claimed, so get_all_responses and a post-timeout re-check
// both see it.
type serviceRouter struct {
	client *Client
	log    *zap.Logger

	mu       sync.Mutex
	waiting  map[int]chan struct{}
	received map[int]routedResponse

	closeOnce sync.Once
	closeCh   chan struct{}
}

type routedResponse struct {
	env *envelope.Envelope
	err error
}

func newServiceRouter(c *Client, service string) *serviceRouter {
	r := &serviceRouter{
		client:   c,
		log:      c.log,
		waiting:  make(map[int]chan struct{}),
		received: make(map[int]routedResponse),
		closeCh:  make(chan struct{}),
	}
	go r.run(service)
	return r
}

func (r *serviceRouter) run(service string) {
	replyTo := r.client.replyToKey(service)
	for {
		select {
		case <-r.closeCh:
			return
		default:
		}
		env, err := r.client.transport.Receive(context.Background(), replyTo, r.client.cfg.RouterPollInterval)
		if err != nil {
			if _, ok := err.(*transport.MessageReceiveTimeout); ok {
				continue
			}
			r.log.Warn("client response router receive failed", zap.String("service", service), zap.Error(err))
			continue
		}
		r.deliver(env.RequestID, routedResponse{env: env})
	}
}

func (r *serviceRouter) deliver(requestID int, resp routedResponse) {
	r.mu.Lock()
	r.received[requestID] = resp
	wake, ok := r.waiting[requestID]
	if ok {
		delete(r.waiting, requestID)
	}
	r.mu.Unlock()
	if ok {
		close(wake)
	}
}

// await blocks for requestID's response until it arrives, ctx is canceled,
// or timeout elapses. On timeout, the registration is withdrawn but the
// response — should it still arrive — remains claimable later via await or
// get_all_responses (§4.5, §8 invariant re timeouts not recalling a
// request).
func (r *serviceRouter) await(ctx context.Context, requestID int, timeout time.Duration) (*envelope.Envelope, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		r.mu.Lock()
		if resp, ok := r.received[requestID]; ok {
			delete(r.received, requestID)
			r.mu.Unlock()
			return resp.env, resp.err
		}
		wake := make(chan struct{})
		r.waiting[requestID] = wake
		r.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-deadline.C:
			r.mu.Lock()
			delete(r.waiting, requestID)
			r.mu.Unlock()
			return nil, &transport.MessageReceiveTimeout{}
		case <-ctx.Done():
			r.mu.Lock()
			delete(r.waiting, requestID)
			r.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// drain removes and returns every response currently buffered, without
// blocking for more to arrive. The order is unspecified; GetAllResponses
// sorts the result by request id.
func (r *serviceRouter) drain() []struct {
	requestID int
	resp      routedResponse
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		requestID int
		resp      routedResponse
	}, 0, len(r.received))
	for id, resp := range r.received {
		out = append(out, struct {
			requestID int
			resp      routedResponse
		}{id, resp})
	}
	return out
}

func (r *serviceRouter) close() {
	r.closeOnce.Do(func() { close(r.closeCh) })
}

func (c *Client) routerFor(service string) *serviceRouter {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.routers[service]
	if !ok {
		r = newServiceRouter(c, service)
		c.routers[service] = r
	}
	return r
}

// Close stops every service router's background receive loop. A Client
// that will no longer be used should be closed to avoid leaking goroutines
// blocked in BLPOP.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.routers {
		r.close()
	}
}
