package transport

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"

	"actionrpc/loadbalance"
)

// Backend abstracts over the three Redis deployment topologies §4.3 names:
// a single standalone instance, a master with read replicas, or a
// Sentinel-managed cluster. Writes (RPUSH/BLPOP/EXPIRE) always target the
// connection Writer returns; Reader is consulted only for list-inspection
// reads (queue depth checks) that tolerate replica lag.
type Backend interface {
	Writer() *redis.Client
	Reader() *redis.Client
	Close() error
}

// TLSConfig carries the TLS and ACL settings §4.3 requires for the Redis 6
// family. A nil *tls.Config on Endpoint leaves the connection in plaintext.
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

func (c TLSConfig) toGoTLS() *tls.Config {
	if !c.Enabled {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify}
}

// Endpoint describes one Redis connection target plus the ACL credentials
// and TLS posture to use when dialing it.
type Endpoint struct {
	Addr     string
	Username string
	Password string
	DB       int
	TLS      TLSConfig
	Weight   int // consulted only when the endpoint is a read replica
}

func (e Endpoint) options() *redis.Options {
	return &redis.Options{
		Addr:      e.Addr,
		Username:  e.Username,
		Password:  e.Password,
		DB:        e.DB,
		TLSConfig: e.TLS.toGoTLS(),
	}
}

// StandaloneBackend wraps a single Redis instance used for both reads and
// writes.
type StandaloneBackend struct {
	client *redis.Client
}

// NewStandaloneBackend dials a single Redis instance.
func NewStandaloneBackend(endpoint Endpoint) *StandaloneBackend {
	return &StandaloneBackend{client: redis.NewClient(endpoint.options())}
}

func (b *StandaloneBackend) Writer() *redis.Client { return b.client }
func (b *StandaloneBackend) Reader() *redis.Client { return b.client }
func (b *StandaloneBackend) Close() error          { return b.client.Close() }

// MasterReplicaBackend wraps one master connection (for writes, and for
// reads when there are no replicas) and a pool of replica connections
// selected via a loadbalance.Balancer for read-only list inspection.
type MasterReplicaBackend struct {
	master   *redis.Client
	replicas map[string]*redis.Client
	order    []loadbalance.Endpoint
	balancer loadbalance.Balancer
}

// NewMasterReplicaBackend dials the master and every replica endpoint.
// balancer selects which replica serves a given Reader() call; pass
// &loadbalance.RoundRobinBalancer{} when replica capacity is uniform, or
// &loadbalance.WeightedRandomBalancer{} when Endpoint.Weight varies.
func NewMasterReplicaBackend(master Endpoint, replicas []Endpoint, balancer loadbalance.Balancer) *MasterReplicaBackend {
	b := &MasterReplicaBackend{
		master:   redis.NewClient(master.options()),
		replicas: make(map[string]*redis.Client, len(replicas)),
		balancer: balancer,
	}
	for _, r := range replicas {
		b.replicas[r.Addr] = redis.NewClient(r.options())
		b.order = append(b.order, loadbalance.Endpoint{Addr: r.Addr, Weight: r.Weight})
	}
	return b
}

func (b *MasterReplicaBackend) Writer() *redis.Client { return b.master }

func (b *MasterReplicaBackend) Reader() *redis.Client {
	if len(b.order) == 0 {
		return b.master
	}
	picked, err := b.balancer.Pick(b.order)
	if err != nil {
		return b.master
	}
	if client, ok := b.replicas[picked.Addr]; ok {
		return client
	}
	return b.master
}

func (b *MasterReplicaBackend) Close() error {
	err := b.master.Close()
	for _, r := range b.replicas {
		if rerr := r.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// SentinelBackend wraps a Sentinel-managed master. go-redis's failover
// client re-resolves the current master from the Sentinel quorum on every
// new connection it opens, so ongoing failovers need no code here; what
// needs bounded retrying is the *initial* connect, since a Sentinel quorum
// mid-election can reject everyone for a moment.
type SentinelBackend struct {
	client *redis.Client
}

// SentinelOptions configures the failover client.
type SentinelOptions struct {
	MasterName       string
	SentinelAddrs    []string
	Username         string
	Password         string
	SentinelUsername string
	SentinelPassword string
	DB               int
	TLS              TLSConfig
	FailoverRetries  int // defaults to DefaultSentinelFailoverRetries when <= 0
}

// DialSentinelBackend connects to a Sentinel-managed master, retrying the
// initial PING up to FailoverRetries times with bounded backoff before
// giving up with ConnectionFailure.
func DialSentinelBackend(ctx context.Context, opts SentinelOptions) (*SentinelBackend, error) {
	retries := opts.FailoverRetries
	if retries <= 0 {
		retries = DefaultSentinelFailoverRetries
	}

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       opts.MasterName,
		SentinelAddrs:    opts.SentinelAddrs,
		Username:         opts.Username,
		Password:         opts.Password,
		SentinelUsername: opts.SentinelUsername,
		SentinelPassword: opts.SentinelPassword,
		DB:               opts.DB,
		TLSConfig:        opts.TLS.toGoTLS(),
	})

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &ConnectionFailure{Cause: ctx.Err()}
			case <-time.After(backoffFor(attempt)):
			}
		}
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			continue
		}
		return &SentinelBackend{client: client}, nil
	}
	_ = client.Close()
	return nil, &ConnectionFailure{Cause: lastErr}
}

func (b *SentinelBackend) Writer() *redis.Client { return b.client }
func (b *SentinelBackend) Reader() *redis.Client { return b.client }
func (b *SentinelBackend) Close() error          { return b.client.Close() }

// backoffFor returns the delay before retry attempt n (1-based), doubling
// from 50ms and capped at 2s — used both for Sentinel reconnect and queue
// full retries.
func backoffFor(attempt int) time.Duration {
	d := 50 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 2*time.Second {
			return 2 * time.Second
		}
	}
	return d
}
