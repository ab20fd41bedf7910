package streampool

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"

	"github.com/pumpfun-superbot/ingestor/internal/metrics"
)

const (
	degradedParseRateThreshold = 0.5
	degradedLatencyThreshold   = 5 * time.Second
	reconnectInitialBackoff    = 2 * time.Second
	reconnectMaxBackoff        = 60 * time.Second
)

// connection owns one gRPC subscription stream: its state machine,
// circuit breaker, resume bookkeeping, and installed filters. State,
// health counters and breaker are driven by run() and its helpers (spec
// section 5: "per-connection task" owns circuit-breaker/health state);
// the pool also adds/removes filters and seeds the resume slot, so every
// mutable field is guarded by mu.
type connection struct {
	id  string
	cfg Config
	out chan<- Message

	mu               sync.Mutex
	st               ConnState
	lastProcessedSlot uint64
	resumeAttempts   int
	lastMessageAt    time.Time
	parsedCount      int64
	recvCount        int64
	filters          map[string]*pb.SubscribeRequest

	breaker *breaker
}

func newConnection(id string, cfg Config, out chan<- Message) *connection {
	return &connection{
		id:      id,
		cfg:     cfg,
		out:     out,
		st:      StateConnecting,
		filters: make(map[string]*pb.SubscribeRequest),
		breaker: newBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout),
	}
}

func (c *connection) state() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *connection) setState(s ConnState) {
	c.mu.Lock()
	prev := c.st
	c.st = s
	c.mu.Unlock()
	if prev != s {
		log.Info("streampool connection state", "connection", c.id, "from", prev, "to", s)
	}
}

func (c *connection) addFilter(subID string, req *pb.SubscribeRequest) {
	c.mu.Lock()
	c.filters[subID] = req
	c.mu.Unlock()
}

func (c *connection) removeFilter(subID string) {
	c.mu.Lock()
	delete(c.filters, subID)
	c.mu.Unlock()
}

func (c *connection) sample() metrics.ConnectionSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	var parseRate float64 = 1
	if c.recvCount > 0 {
		parseRate = float64(c.parsedCount) / float64(c.recvCount)
	}
	return metrics.ConnectionSample{
		ID:             c.id,
		State:          string(c.st),
		TrailingTPS:    float64(c.recvCount),
		ParseRate:      parseRate,
		LastMessageAge: time.Since(c.lastMessageAt),
	}
}

// resumeState reports this connection's checkpointable fields (spec
// section 4.9: "per-connection last_processed_slot").
func (c *connection) resumeState() (slot uint64, retryCount int, breakerState string) {
	c.mu.Lock()
	slot, retryCount = c.lastProcessedSlot, c.resumeAttempts
	c.mu.Unlock()
	return slot, retryCount, c.breaker.stateString()
}

// seedResumeSlot primes the resume slot from a loaded checkpoint before
// the connection's first connect attempt.
func (c *connection) seedResumeSlot(slot uint64) {
	c.mu.Lock()
	c.lastProcessedSlot = slot
	c.mu.Unlock()
}

// run drives the connect -> stream -> reconnect loop (grounded in the
// laserstream client's streamLoop/connectAndStream shape), never
// returning until ctx is cancelled.
func (c *connection) run(ctx context.Context) {
	backoffDur := reconnectInitialBackoff
	for {
		if ctx.Err() != nil {
			c.setState(StateDead)
			return
		}

		if !c.breaker.allow() {
			c.setState(StateFailing)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		c.setState(StateConnecting)
		err := c.connectAndStream(ctx)
		if ctx.Err() != nil {
			c.setState(StateDead)
			return
		}
		if err == nil || err == io.EOF {
			c.breaker.recordSuccess()
			backoffDur = reconnectInitialBackoff
			continue
		}

		c.breaker.recordFailure()
		c.setState(StateReconnecting)
		log.Warn("streampool reconnect", "connection", c.id, "error", err, "backoff", backoffDur)

		select {
		case <-ctx.Done():
			c.setState(StateDead)
			return
		case <-time.After(backoffDur):
		}

		backoffDur *= 2
		if backoffDur > reconnectMaxBackoff {
			backoffDur = reconnectMaxBackoff
		}
	}
}

// connectAndStream dials once, subscribes with the resume-aware
// from_slot, and reads until the stream ends or errors (spec section 4.1
// "Resume semantics"). The stream itself runs for the connection's whole
// life; only the wait for the very first message is bounded by
// SubscribeTimeout (spec section 5 "Subscribe request: 10s to first
// message") -- the underlying RPC context must stay live for the
// duration of the subscription, not just for dialing it.
func (c *connection) connectAndStream(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, c.cfg.Endpoint, dialOptions(c.cfg.Token)...)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := pb.NewGeyserClient(conn)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Subscribe(streamCtx)
	if err != nil {
		return err
	}

	if err := stream.Send(c.buildRequest()); err != nil {
		return err
	}

	c.setState(StateOpen)

	first := true
	for {
		update, err := c.recvWithTimeout(stream, first)
		if err != nil {
			return err
		}
		first = false

		c.mu.Lock()
		c.recvCount++
		c.lastMessageAt = time.Now()
		c.mu.Unlock()

		if update.GetPing() != nil {
			_ = stream.Send(&pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: 1}})
			continue
		}

		if slot := update.GetSlot(); slot != nil {
			c.mu.Lock()
			if slot.Slot > c.lastProcessedSlot {
				c.lastProcessedSlot = slot.Slot
				c.resumeAttempts = 0
			}
			c.mu.Unlock()
		}

		c.mu.Lock()
		c.parsedCount++
		parseRate := float64(c.parsedCount) / float64(c.recvCount)
		lastAge := time.Since(c.lastMessageAt)
		c.mu.Unlock()

		if parseRate < degradedParseRateThreshold || lastAge > degradedLatencyThreshold {
			c.setState(StateDegraded)
		} else if c.state() == StateDegraded {
			c.setState(StateOpen)
		}

		select {
		case c.out <- Message{ConnectionID: c.id, Update: update}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// errSubscribeTimeout is returned when a freshly opened stream produces
// no first message within SubscribeTimeout (spec section 5).
var errSubscribeTimeout = errSentinel("streampool: no message within subscribe timeout")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

// recvWithTimeout reads the next update off stream. For the first message
// only, it bounds the wait to cfg.SubscribeTimeout; subsequent reads block
// indefinitely, since an idle-but-healthy stream can legitimately go quiet
// between events.
func (c *connection) recvWithTimeout(stream pb.Geyser_SubscribeClient, first bool) (*pb.SubscribeUpdate, error) {
	if !first {
		return stream.Recv()
	}

	type result struct {
		update *pb.SubscribeUpdate
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := stream.Recv()
		ch <- result{u, err}
	}()

	select {
	case r := <-ch:
		return r.update, r.err
	case <-time.After(c.cfg.SubscribeTimeout):
		return nil, errSubscribeTimeout
	}
}

// buildRequest merges all installed filters into one SubscribeRequest and
// applies resume-from-slot logic: up to max_retry_with_last_slot
// consecutive attempts carry from_slot, after which the connection
// reverts to "latest" (spec section 4.1).
func (c *connection) buildRequest() *pb.SubscribeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := &pb.SubscribeRequest{
		Commitment: commitmentFromString(c.cfg.CommitmentLevel),
		Accounts:   map[string]*pb.SubscribeRequestFilterAccounts{},
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{},
		Slots:      map[string]*pb.SubscribeRequestFilterSlots{"slots": {}},
	}

	if c.lastProcessedSlot > 0 && c.resumeAttempts < c.cfg.MaxRetryWithLastSlot {
		from := c.lastProcessedSlot + 1
		req.FromSlot = &from
		c.resumeAttempts++
	}

	for subID, filter := range c.filters {
		for k, v := range filter.GetAccounts() {
			req.Accounts[subID+"_"+k] = v
		}
		for k, v := range filter.GetTransactions() {
			req.Transactions[subID+"_"+k] = v
		}
	}

	return req
}

func commitmentFromString(level string) *pb.CommitmentLevel {
	var c pb.CommitmentLevel
	switch level {
	case "processed":
		c = pb.CommitmentLevel_PROCESSED
	case "finalized":
		c = pb.CommitmentLevel_FINALIZED
	default:
		c = pb.CommitmentLevel_CONFIRMED
	}
	return &c
}

func (c *connection) close() {
	c.setState(StateDead)
}
