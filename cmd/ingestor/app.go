package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5/pgxpool"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"github.com/pumpfun-superbot/ingestor/internal/checkpoint"
	"github.com/pumpfun-superbot/ingestor/internal/config"
	"github.com/pumpfun-superbot/ingestor/internal/eventbus"
	"github.com/pumpfun-superbot/ingestor/internal/graduation"
	"github.com/pumpfun-superbot/ingestor/internal/ingest"
	"github.com/pumpfun-superbot/ingestor/internal/metrics"
	"github.com/pumpfun-superbot/ingestor/internal/oracle"
	"github.com/pumpfun-superbot/ingestor/internal/parser"
	"github.com/pumpfun-superbot/ingestor/internal/persistence"
	"github.com/pumpfun-superbot/ingestor/internal/poolstate"
	"github.com/pumpfun-superbot/ingestor/internal/streampool"
	"github.com/pumpfun-superbot/ingestor/internal/tradehandler"
	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// app is the explicit dependency-injection container spec section 9
// calls for in place of the source's global singletons: every component
// is constructed once here and handed typed references to its
// collaborators, with no package-level state anywhere in internal/.
type app struct {
	cfg config.Config

	dbPool *pgxpool.Pool

	bus        *eventbus.Bus
	strategies *metrics.StrategyCounters
	pools      *poolstate.Store
	grad       *graduation.Tracker
	prices     *oracle.PriceCache
	writer     *persistence.Writer
	checkpt    *checkpoint.Writer
	stream     *streampool.Pool
	par        *parser.Parser
	handler    *tradehandler.Handler
	reporter   *metrics.Reporter
	clock      *ingest.SlotClock
}

// newApp constructs every component in dependency order (leaves first,
// matching the spec section 2 component table) but starts nothing yet.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.dbPool = pool
	} else {
		log.Warn("no DATABASE_URL configured; running in dry-run mode with persistence disabled")
	}

	a.bus = eventbus.New(1024)
	a.strategies = metrics.NewStrategyCounters()
	a.pools = poolstate.New()
	a.grad = graduation.New()
	a.clock = ingest.NewSlotClock(4096)

	a.prices = oracle.NewPriceCache(oracle.NewRestyPriceSource(solUSDEndpoint, 3*time.Second))

	a.writer = persistence.NewWriter(a.dbPool, persistence.Config{
		Size:               cfg.Batch.Size,
		Timeout:            cfg.Batch.Timeout,
		QueueHighWatermark: cfg.Batch.QueueHighWatermark,
		QueueLowWatermark:  cfg.Batch.QueueLowWatermark,
		DBTimeout:          cfg.Batch.DBTimeout,
	})

	a.stream = streampool.New(streampool.Config{
		MinConnections:       cfg.Pool.MinConnections,
		MaxConnections:       cfg.Pool.MaxConnections,
		HealthCheckInterval:  cfg.Pool.HealthCheckInterval,
		FailureThreshold:     cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:      cfg.CircuitBreaker.RecoveryTimeout,
		MaxDownInterval:      cfg.Pool.MaxDownInterval,
		SubscribeTimeout:     cfg.Pool.SubscribeTimeout,
		MaxRetryWithLastSlot: cfg.Pool.MaxRetryWithLastSlot,
		CommitmentLevel:      cfg.CommitmentLevel,
		Endpoint:             cfg.StreamEndpoint,
		Token:                cfg.StreamToken,
		RateLimitWindow:      cfg.RateLimit.Window,
		MaxSubsPerWindow:     cfg.RateLimit.MaxSubscriptionsPerWindow,
	})

	a.par = parser.New(a.strategies, a.grad, a.pools)

	a.handler = tradehandler.New(tradehandler.Thresholds{
		BCSaveThresholdUSD:  cfg.Thresholds.BCSaveThresholdUSD,
		AMMSaveThresholdUSD: cfg.Thresholds.AMMSaveThresholdUSD,
	}, a.prices, a.pools, a.writer, a.bus, a.grad)

	a.checkpt = checkpoint.NewWriter(a.dbPool, cfg.Checkpoint.Interval, checkpoint.Sources{
		ResumeState: func() ([]checkpoint.ConnectionResume, map[string]string) {
			conns, groups := a.stream.ResumeState()
			out := make([]checkpoint.ConnectionResume, len(conns))
			for i, c := range conns {
				out[i] = checkpoint.ConnectionResume{
					ConnectionID: c.ConnectionID, Slot: c.Slot,
					RetryCount: c.RetryCount, BreakerState: c.BreakerState,
				}
			}
			return out, groups
		},
		Pending:   a.grad.PendingGraduations,
		Mappings:  a.grad.Mappings,
		Graduated: a.graduatedSet,
	})

	a.reporter = metrics.NewReporter(30*time.Second, a.strategies, a.stream.ConnectionHealth, a.writer.QueueDepths, a.pools.PoolCount)

	return a, nil
}

// graduatedSet adapts the tracker's per-curve state into the bool map the
// checkpoint snapshot stores (spec section 4.9 "circuit-breaker states,
// pending-graduation set").
func (a *app) graduatedSet() map[string]bool {
	out := make(map[string]bool)
	for bc := range a.grad.Mappings() {
		if st, ok := a.grad.State(bc); ok && st == graduation.StateComplete {
			out[bc] = true
		}
	}
	return out
}

const solUSDEndpoint = "https://price.internal/sol-usd"

// restore loads the most recent checkpoint (if any), seeding the stream
// pool's resume slot and rehydrating the Graduation Tracker's BC<->mint
// map (spec section 4.9: "On startup, the most recent checkpoint drives
// the initial from_slot... and rehydrates the BC<->mint mapping").
func (a *app) restore(ctx context.Context) error {
	snap, ok, err := checkpoint.Load(ctx, a.dbPool)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		log.Info("no checkpoint found, starting cold")
		return nil
	}

	a.grad.Rehydrate(snap.BCToMint, snap.GraduatedBCs)
	if slot := snap.LatestSlot(); slot > 0 {
		a.stream.SeedResumeSlot(slot)
	}
	log.Info("restored checkpoint", "taken_at", snap.TakenAt, "mappings", len(snap.BCToMint), "latest_slot", snap.LatestSlot())
	return nil
}

// start brings up every background task and the pool's subscriptions,
// in the dependency order spec section 2 implies: the Stream Pool last,
// since everything downstream of it must already be running.
func (a *app) start(ctx context.Context) error {
	go a.prices.Run(ctx, 5*time.Second)
	go a.writer.Run(ctx)
	go a.checkpt.Run(ctx)
	go a.reporter.Run(ctx)

	go a.runTradeConsumer(ctx, a.bus.Subscribe("trade_handler"))
	go a.runGraduationConsumer(ctx, a.bus.Subscribe("graduation"))
	go a.runPoolStateConsumer(ctx, a.bus.Subscribe("pool_state"))
	go a.runDiscoveryConsumer(ctx, a.bus.Subscribe("discovery"))

	if err := a.stream.Start(ctx); err != nil {
		return fmt.Errorf("start stream pool: %w", err)
	}

	if _, err := a.stream.Acquire(ctx, streampool.PriorityHigh, bcSubscribeRequest()); err != nil {
		return fmt.Errorf("acquire bonding-curve subscription: %w", err)
	}
	if _, err := a.stream.Acquire(ctx, streampool.PriorityMedium, ammSubscribeRequest()); err != nil {
		return fmt.Errorf("acquire amm subscription: %w", err)
	}

	go a.runIngestLoop(ctx)
	return nil
}

// bcSubscribeRequest builds the SubscribeRequest for the high-priority
// bonding-curve group: its own program account updates plus transactions
// that touch it (spec section 4.2 "high (bonding-curve program)").
func bcSubscribeRequest() *pb.SubscribeRequest {
	return &pb.SubscribeRequest{
		Accounts: map[string]*pb.SubscribeRequestFilterAccounts{
			"bc_accounts": {Owner: []string{wire.BondingCurveProgramID}},
		},
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			"bc_txs": {AccountInclude: []string{wire.BondingCurveProgramID}},
		},
	}
}

// ammSubscribeRequest builds the SubscribeRequest for the medium-
// priority AMM group.
func ammSubscribeRequest() *pb.SubscribeRequest {
	return &pb.SubscribeRequest{
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{
			"amm_txs": {AccountInclude: []string{wire.AMMProgramID}},
		},
	}
}

// runIngestLoop is the single fan-in reader: it translates each raw pool
// message into a ParseContext, dispatches it through the Event Parser,
// and publishes whatever typed event results onto the bus (spec section
// 2 data flow: "Stream Pool -> Subscription Router tag -> Event Parser
// -> typed event -> Event Bus").
func (a *app) runIngestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.stream.Messages():
			if !ok {
				return
			}
			a.dispatch(msg)
		}
	}
}

func (a *app) dispatch(msg streampool.Message) {
	upd := msg.Update

	if bm := upd.GetBlockMeta(); bm != nil {
		ingest.RecordBlockMeta(a.clock, bm)
		return
	}

	var ctx parser.ParseContext
	var ok bool
	switch {
	case upd.GetTransaction() != nil:
		ctx, ok = ingest.Transaction(upd.GetTransaction(), a.clock, time.Now())
	case upd.GetAccount() != nil:
		ctx, ok = ingest.Account(upd.GetAccount())
	default:
		return // slot/ping notifications carry nothing to parse
	}
	if !ok {
		return // malformed notification: drop, not retry (spec section 4.3)
	}

	for !a.writer.Accepting() {
		// Back-pressure: hold this message until the persistence queues
		// drain below the low watermark. While the ingest loop waits here
		// it stops reading, so the Stream Pool's channel fills and its
		// recv loop stalls instead of dropping messages (spec section 4.8).
		time.Sleep(50 * time.Millisecond)
	}

	evt, strategy, found := a.par.Dispatch(ctx)
	if !found {
		return
	}
	log.Debug("parser:success", "strategy", strategy, "kind", evt.Kind(), "slot", ctx.Slot)
	a.bus.Publish(evt)
}

func (a *app) runTradeConsumer(ctx context.Context, sub *eventbus.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			var err error
			switch e := evt.(type) {
			case wire.BCTrade:
				err = a.handler.HandleBCTrade(e)
			case wire.AMMTrade:
				err = a.handler.HandleAMMTrade(e)
			}
			if err != nil {
				log.Warn("trade handler error", "error", err)
			}
		}
	}
}

// runGraduationConsumer routes every Graduation event the parser itself
// emitted (from either the CompleteEvent log strategy or the BC account
// strategy) through the tracker's idempotent bookkeeping before it is
// persisted, so a mint is graduated at most once regardless of which
// strategy first observed it (spec section 4.5, testable property 4). It
// also feeds BondingCurveProgressUpdate side events (emitted by the BC
// account strategy for progress in (90, 100)) into the same tracker, the
// same way a parsed BC trade's progress does -- a curve that only ever
// crosses 90% via account snapshots, with no decodable trade log in
// between, must still reach StateNearGrad (spec section 4.5 table,
// "Active" row: "first BC trade or account snapshot").
func (a *app) runGraduationConsumer(ctx context.Context, sub *eventbus.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			switch e := evt.(type) {
			case wire.BondingCurveProgressUpdate:
				a.grad.ObserveBCTrade(e.BondingCurve, e.Mint, e.Progress)
			case wire.Graduation:
				a.handleGraduation(e)
			}
		}
	}
}

func (a *app) handleGraduation(g wire.Graduation) {
	confirmed, first := a.grad.ObserveComplete(g.BondingCurve, g.GraduationTime)
	if !first {
		return
	}
	if confirmed.Mint == "" {
		confirmed.Mint = g.Mint
	}
	a.writer.EnqueueGraduation(persistence.GraduationRow{
		BondingCurveAddress: confirmed.BondingCurve,
		MintAddress:         confirmed.Mint,
		GraduationTimestamp: confirmed.GraduationTime,
		Reason:              string(confirmed.Reason),
	})
	grad := confirmed.GraduationTime
	a.writer.EnqueueToken(persistence.TokenRow{
		MintAddress:         confirmed.Mint,
		CurrentProgram:      string(wire.ProgramAMMPool),
		Graduated:           true,
		GraduationTimestamp: &grad,
		BondingCurveAddress: confirmed.BondingCurve,
	})
}

// runPoolStateConsumer keeps the Pool State Store current from
// PoolCreated events and AMM trades that carry reserves, and mirrors
// every applied update to the persistence layer (spec section 4.7:
// "snapshotted to persistence asynchronously").
func (a *app) runPoolStateConsumer(ctx context.Context, sub *eventbus.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			switch e := evt.(type) {
			case wire.PoolCreated:
				applied := a.pools.Upsert(poolstate.State{
					PoolAddress: e.Pool,
					Mint:        e.Mint,
					Slot:        e.Slot,
					Reserves:    e.Reserves,
					PoolOpen:    true,
				})
				if applied {
					a.writer.EnqueuePoolState(persistence.PoolStateRow{
						PoolAddress: e.Pool,
						Slot:        e.Slot,
						MintAddress: e.Mint,
						Reserves:    reservesRow(e.Reserves),
						PoolOpen:    true,
					})
				}
			case wire.AMMTrade:
				if e.Reserves == nil {
					continue
				}
				applied := a.pools.Upsert(poolstate.State{
					PoolAddress: e.Pool,
					Mint:        e.Mint,
					Slot:        e.Slot,
					Reserves:    *e.Reserves,
					PoolOpen:    true,
				})
				if applied {
					a.writer.EnqueuePoolState(persistence.PoolStateRow{
						PoolAddress: e.Pool,
						Slot:        e.Slot,
						MintAddress: e.Mint,
						Reserves:    reservesRow(*e.Reserves),
						PoolOpen:    true,
					})
				}
			}
		}
	}
}

// runDiscoveryConsumer persists the token identity carried by a
// TokenDiscovered side event (name/symbol/creator/URI) the first time a
// mint is seen on its bonding curve, and links it into the Graduation
// Tracker's BC<->mint map (spec section 4.5 "Coupling BC<->AMM... (b) the
// create instruction carries both").
func (a *app) runDiscoveryConsumer(ctx context.Context, sub *eventbus.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			td, isDiscovered := evt.(wire.TokenDiscovered)
			if !isDiscovered {
				continue
			}
			a.grad.Link(td.BondingCurve, td.Mint)
			a.writer.EnqueueToken(persistence.TokenRow{
				MintAddress:         td.Mint,
				Symbol:              td.Symbol,
				Name:                td.Name,
				FirstProgram:        string(td.FirstProgram),
				CurrentProgram:      string(td.FirstProgram),
				Creator:             td.Creator,
				BondingCurveAddress: td.BondingCurve,
				FirstSeenSlot:       td.Slot,
				LatestReserves:      reservesRow(td.Reserves),
			})
		}
	}
}

func reservesRow(r wire.ReservesSnapshot) persistence.ReservesRow {
	return persistence.ReservesRow{
		VirtualSOLReserves:   r.VirtualSOLReserves,
		VirtualTokenReserves: r.VirtualTokenReserves,
		RealSOLReserves:      r.RealSOLReserves,
		RealTokenReserves:    r.RealTokenReserves,
	}
}

// shutdown cancels all background work, gives the persistence layer and
// checkpoint writer up to the configured grace period to drain, and
// closes the database pool.
func (a *app) shutdown(cancel context.CancelFunc) {
	a.stream.Stop()
	cancel()
	time.Sleep(a.cfg.Shutdown.GracePeriod)
	a.bus.Close()
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}
