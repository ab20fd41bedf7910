// Package streampool implements the pooled Yellowstone-style gRPC
// subscription layer (spec section 4.1) and the Subscription Router that
// assigns logical subscriptions to connections (spec section 4.2).
package streampool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	"github.com/pumpfun-superbot/ingestor/internal/metrics"
)

// ConnState is a connection's place in the lifecycle spec section 4.1
// names: Connecting -> Open -> Degraded -> Failing -> Reconnecting ->
// (Open|Dead).
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateDegraded     ConnState = "degraded"
	StateFailing      ConnState = "failing"
	StateReconnecting ConnState = "reconnecting"
	StateDead         ConnState = "dead"
)

// ErrPoolExhausted is returned by Acquire when no connection has spare
// capacity (spec section 4.1: "acquire... fails only on pool exhaustion").
var ErrPoolExhausted = errors.New("streampool: pool exhausted")

// overloadedLoadThreshold is the per-connection load (spec section 4.2's
// 0.6*tps_normalized + 0.4*(1-parse_rate)) above which rebalancing alone
// can't shed enough and the pool grows toward max_connections instead.
const overloadedLoadThreshold = 0.8

// Handle identifies one installed subscription so it can later be
// released without tearing down the underlying connection.
type Handle struct {
	ID           string
	ConnectionID string
	Group        Priority
}

// Message is one decoded update from the stream, tagged with the
// connection and subscription it arrived on.
type Message struct {
	ConnectionID string
	Update       *pb.SubscribeUpdate
}

// Config mirrors the subset of internal/config.PoolConfig this package
// needs, kept separate so streampool has no import on internal/config.
type Config struct {
	MinConnections       int
	MaxConnections       int
	HealthCheckInterval  time.Duration
	FailureThreshold     int
	RecoveryTimeout      time.Duration
	MaxDownInterval      time.Duration
	SubscribeTimeout     time.Duration
	MaxRetryWithLastSlot int
	CommitmentLevel      string
	Endpoint             string
	Token                string
	RateLimitWindow      time.Duration
	MaxSubsPerWindow     int
}

// Pool owns a small set of long-lived gRPC subscriptions and the per-
// connection health/circuit-breaker state the Router reads to balance
// load (spec section 5: "Connection pool registry | Stream Pool manager |
// Stream Pool manager | read-only to Router").
type Pool struct {
	cfg Config

	mu          sync.Mutex
	connections map[string]*connection
	downSince   time.Time
	seedSlot    uint64

	limiter *rateLimiter
	router  *Router

	out       chan Message
	cancel    context.CancelFunc
	collapsed chan PoolCollapseError
}

// New builds a Pool that is not yet dialing; call Start to bring up the
// minimum connection count.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:         cfg,
		collapsed:   make(chan PoolCollapseError, 1),
		connections: make(map[string]*connection),
		limiter:     newRateLimiter(cfg.RateLimitWindow, cfg.MaxSubsPerWindow),
		router:      newRouter(),
		out:         make(chan Message, 1024),
	}
}

// Messages is the single fan-in channel every consumer reads from; per
// connection ordering is preserved, across connections there is none
// (spec section 4.1 "Ordering and fan-out").
func (p *Pool) Messages() <-chan Message { return p.out }

// Start dials min_connections connections and begins their read loops.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.MinConnections; i++ {
		if err := p.addConnection(ctx); err != nil {
			return fmt.Errorf("streampool: start connection %d: %w", i, err)
		}
	}
	go p.healthLoop(ctx)
	return nil
}

// Stop cancels the context every connection runs under, which ends each
// stream, and marks every connection dead. It does not send a half-close
// on the streams before cancelling them.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.connections {
		c.close()
	}
}

func (p *Pool) addConnection(ctx context.Context) error {
	id := uuid.NewString()
	c := newConnection(id, p.cfg, p.out)
	p.mu.Lock()
	if p.seedSlot > 0 {
		c.seedResumeSlot(p.seedSlot)
	}
	p.connections[id] = c
	p.mu.Unlock()
	go c.run(ctx)
	p.router.addConnection(id)
	return nil
}

// Acquire installs a logical subscription (program id + filter) on the
// connection the Router selects for group, respecting the sliding-window
// rate limiter (spec section 4.1 "Rate limit").
func (p *Pool) Acquire(ctx context.Context, group Priority, req *pb.SubscribeRequest) (Handle, error) {
	p.mu.Lock()
	conns := p.healthyConnectionIDs()
	p.mu.Unlock()
	if len(conns) == 0 {
		return Handle{}, ErrPoolExhausted
	}

	connID := p.router.assign(group, conns)

	if err := p.limiter.wait(ctx); err != nil {
		return Handle{}, fmt.Errorf("streampool: rate limit wait: %w", err)
	}

	p.mu.Lock()
	c, ok := p.connections[connID]
	p.mu.Unlock()
	if !ok {
		return Handle{}, ErrPoolExhausted
	}

	subID := uuid.NewString()
	c.addFilter(subID, req)

	log.Info("streampool subscribe", "connection", connID, "group", group, "subscription", subID)
	return Handle{ID: subID, ConnectionID: connID, Group: group}, nil
}

// Release detaches a subscription; the connection stays open for reuse
// (spec section 4.1 "release(handle) detaches").
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	c, ok := p.connections[h.ConnectionID]
	p.mu.Unlock()
	if ok {
		c.removeFilter(h.ID)
	}
}

func (p *Pool) healthyConnectionIDs() []string {
	var ids []string
	for id, c := range p.connections {
		if c.state() != StateDead {
			ids = append(ids, id)
		}
	}
	return ids
}

// ConnectionHealth returns the per-connection health snapshot spec
// section 4.1's connection_health() contract describes, and doubles as
// the internal/metrics.ConnectionHealthFunc wired into the stats-box
// reporter.
func (p *Pool) ConnectionHealth() []metrics.ConnectionSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]metrics.ConnectionSample, 0, len(p.connections))
	for _, c := range p.connections {
		out = append(out, c.sample())
	}
	return out
}

// ConnectionResume is one connection's checkpointable resume state (spec
// section 4.9).
type ConnectionResume struct {
	ConnectionID string
	Slot         uint64
	RetryCount   int
	BreakerState string
}

// ResumeState returns the current per-connection resume bookkeeping and
// the Router's group pins, for the periodic checkpoint snapshot.
func (p *Pool) ResumeState() ([]ConnectionResume, map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectionResume, 0, len(p.connections))
	for id, c := range p.connections {
		slot, retries, bs := c.resumeState()
		out = append(out, ConnectionResume{ConnectionID: id, Slot: slot, RetryCount: retries, BreakerState: bs})
	}
	return out, p.router.GroupAssignments()
}

// SeedResumeSlot primes a not-yet-connected pool with the last known slot
// from a loaded checkpoint (spec section 4.9: "the most recent checkpoint
// drives the initial from_slot per connection"). The seed applies to
// every connection added after the call; Start must be called afterward.
func (p *Pool) SeedResumeSlot(slot uint64) {
	p.mu.Lock()
	p.seedSlot = slot
	p.mu.Unlock()
}

// healthLoop watches for sustained loss of min_connections and escalates
// to a fatal pool-collapse condition after max_down_interval (spec
// section 4.1 "Fatal condition", section 6 exit code 2).
func (p *Pool) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth()
			p.recordLoadAndRebalance(ctx)
		}
	}
}

// recordLoadAndRebalance feeds every connection's current load sample
// (spec section 4.2's 0.6*tps_normalized + 0.4*(1-parse_rate)) into the
// Router, re-pins medium/low groups once the resulting max-to-min ratio
// has held above 1.5x for two consecutive samples, and grows the pool
// toward max_connections when every connection is running hot -- a
// rebalance alone can't shed load once all candidates are saturated.
func (p *Pool) recordLoadAndRebalance(ctx context.Context) {
	p.mu.Lock()
	samples := make([]metrics.ConnectionSample, 0, len(p.connections))
	for _, c := range p.connections {
		samples = append(samples, c.sample())
	}
	conns := p.healthyConnectionIDs()
	count := len(p.connections)
	p.mu.Unlock()

	if len(samples) == 0 {
		return
	}

	var maxTPS float64
	for _, s := range samples {
		if s.TrailingTPS > maxTPS {
			maxTPS = s.TrailingTPS
		}
	}

	overloaded := true
	for _, s := range samples {
		var tpsNormalized float64
		if maxTPS > 0 {
			tpsNormalized = s.TrailingTPS / maxTPS
		}
		load := Load(tpsNormalized, s.ParseRate)
		p.router.RecordLoad(s.ID, load)
		if load < overloadedLoadThreshold {
			overloaded = false
		}
	}

	if len(conns) > 0 && p.router.ShouldRebalance() {
		log.Info("streampool rebalance", "connections", conns)
		p.router.Rebalance(conns)
	}

	if overloaded && count < p.cfg.MaxConnections {
		if err := p.addConnection(ctx); err != nil {
			log.Warn("streampool grow", "error", err)
		}
	}
}

func (p *Pool) checkHealth() {
	p.mu.Lock()
	healthy := 0
	for _, c := range p.connections {
		if c.state() == StateOpen {
			healthy++
		}
	}
	if healthy >= p.cfg.MinConnections {
		p.downSince = time.Time{}
		p.mu.Unlock()
		return
	}
	if p.downSince.IsZero() {
		p.downSince = time.Now()
	}
	down := time.Since(p.downSince)
	p.mu.Unlock()

	if down > p.cfg.MaxDownInterval {
		log.Error("streampool collapse", "healthy", healthy, "min_connections", p.cfg.MinConnections, "down_for", down)
		select {
		case p.collapsed <- (PoolCollapseError{Down: down}):
		default:
		}
	}
}

// Collapsed reports the fatal pool-collapse condition spec section 4.1
// names ("inability to maintain >= min_connections for longer than
// max_down_interval"). The caller selects on it to drive a graceful
// shutdown and exit code 2 (spec section 6) instead of letting an
// unrecovered panic take down the process uncontrolled.
func (p *Pool) Collapsed() <-chan PoolCollapseError { return p.collapsed }

// PoolCollapseError is delivered on Collapsed(); cmd/ingestor receives it
// and maps it to exit code 2 (spec section 6).
type PoolCollapseError struct {
	Down time.Duration
}

func (e PoolCollapseError) Error() string {
	return fmt.Sprintf("stream pool collapsed: below min_connections for %s", e.Down)
}

func dialOptions(token string) []grpc.DialOption {
	creds := credentials.NewTLS(nil)
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallCompressorName(gzip.Name)),
	}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(tokenCreds{token: token}))
	}
	return opts
}

type tokenCreds struct{ token string }

func (t tokenCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"x-token": t.token}, nil
}
func (t tokenCreds) RequireTransportSecurity() bool { return true }
