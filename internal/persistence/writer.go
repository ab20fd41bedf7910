// Package persistence implements the batched, idempotent Persistence
// Layer (spec section 4.8): four queues flushed on size or timeout,
// each batch run as one transaction, with back-pressure watermarks the
// Event Parser honors.
package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pumpfun-superbot/ingestor/internal/metrics"
)

// Config mirrors internal/config.BatchConfig, kept separate so this
// package has no dependency on internal/config.
type Config struct {
	Size               int
	Timeout            time.Duration
	QueueHighWatermark int
	QueueLowWatermark  int
	DBTimeout          time.Duration
}

// Writer batches writes across the four logical tables and drains them
// on a timer or size trigger (spec section 4.8).
type Writer struct {
	cfg  Config
	pool *pgxpool.Pool

	mu          sync.Mutex
	tokens      []TokenRow
	trades      []TradeRow
	poolStates  []PoolStateRow
	graduations []GraduationRow

	blocked bool

	droppedOnShutdown map[string]int
}

func NewWriter(pool *pgxpool.Pool, cfg Config) *Writer {
	return &Writer{cfg: cfg, pool: pool, droppedOnShutdown: make(map[string]int)}
}

// Run flushes all four queues every cfg.Timeout until ctx is cancelled,
// then performs one last best-effort flush within the caller's shutdown
// grace period (spec section 5 "the persistence layer is given up to
// shutdown_grace_ms to drain queues").
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.drainOnShutdown()
			return
		case <-ticker.C:
			w.flushAll(context.Background())
		}
	}
}

// drainOnShutdown attempts one final flush and logs exactly how many
// rows of each kind were dropped vs. flushed (SPEC_FULL.md supplemented
// feature #4).
func (w *Writer) drainOnShutdown() {
	w.mu.Lock()
	tokens, trades, poolStates, graduations := len(w.tokens), len(w.trades), len(w.poolStates), len(w.graduations)
	w.mu.Unlock()

	w.flushAll(context.Background())

	w.mu.Lock()
	remainingTokens, remainingTrades := len(w.tokens), len(w.trades)
	remainingPoolStates, remainingGraduations := len(w.poolStates), len(w.graduations)
	w.mu.Unlock()

	log.Info("persistence shutdown drain report",
		"tokens_flushed", tokens-remainingTokens, "tokens_dropped", remainingTokens,
		"trades_flushed", trades-remainingTrades, "trades_dropped", remainingTrades,
		"pool_states_flushed", poolStates-remainingPoolStates, "pool_states_dropped", remainingPoolStates,
		"graduations_flushed", graduations-remainingGraduations, "graduations_dropped", remainingGraduations,
	)
}

func (w *Writer) flushAll(ctx context.Context) {
	w.flushTokens(ctx)
	w.flushTrades(ctx)
	w.flushPoolStates(ctx)
	w.flushGraduations(ctx)
	w.updateBackpressure()
}

// EnqueueToken appends a token upsert, flushing immediately if the queue
// has reached batch_size.
func (w *Writer) EnqueueToken(t TokenRow) {
	w.mu.Lock()
	w.tokens = append(w.tokens, t)
	full := len(w.tokens) >= w.cfg.Size
	w.mu.Unlock()
	if full {
		w.flushTokens(context.Background())
	}
}

func (w *Writer) EnqueueTrade(t TradeRow) {
	w.mu.Lock()
	w.trades = append(w.trades, t)
	full := len(w.trades) >= w.cfg.Size
	w.mu.Unlock()
	if full {
		w.flushTrades(context.Background())
	}
}

func (w *Writer) EnqueuePoolState(p PoolStateRow) {
	w.mu.Lock()
	w.poolStates = append(w.poolStates, p)
	full := len(w.poolStates) >= w.cfg.Size
	w.mu.Unlock()
	if full {
		w.flushPoolStates(context.Background())
	}
}

func (w *Writer) EnqueueGraduation(g GraduationRow) {
	w.mu.Lock()
	w.graduations = append(w.graduations, g)
	full := len(w.graduations) >= w.cfg.Size
	w.mu.Unlock()
	if full {
		w.flushGraduations(context.Background())
	}
}

// Accepting reports whether the Event Parser may keep handing in new
// work, implementing the high/low watermark hysteresis (spec section
// 4.8 "Back-pressure").
func (w *Writer) Accepting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.blocked
}

func (w *Writer) updateBackpressure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	depth := len(w.tokens) + len(w.trades) + len(w.poolStates) + len(w.graduations)
	if !w.blocked && depth >= w.cfg.QueueHighWatermark {
		w.blocked = true
		log.Warn("persistence back-pressure engaged", "depth", depth, "high_watermark", w.cfg.QueueHighWatermark)
	} else if w.blocked && depth <= w.cfg.QueueLowWatermark {
		w.blocked = false
		log.Info("persistence back-pressure released", "depth", depth, "low_watermark", w.cfg.QueueLowWatermark)
	}
}

// QueueDepths implements internal/metrics.QueueDepthFunc.
func (w *Writer) QueueDepths() metrics.QueueDepths {
	w.mu.Lock()
	defer w.mu.Unlock()
	return metrics.QueueDepths{
		Tokens:      len(w.tokens),
		Trades:      len(w.trades),
		PoolStates:  len(w.poolStates),
		Graduations: len(w.graduations),
	}
}

func (w *Writer) flushTokens(ctx context.Context) {
	w.mu.Lock()
	batch := w.tokens
	w.tokens = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	err := w.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range batch {
			_, err := tx.Exec(ctx, upsertTokenSQL,
				t.MintAddress, t.Symbol, t.Name, t.FirstProgram, t.CurrentProgram, t.Graduated,
				t.GraduationTimestamp, t.LatestPriceSOL, t.LatestPriceUSD, t.LatestMarketCapUSD,
				t.LatestReserves.VirtualSOLReserves, t.LatestReserves.VirtualTokenReserves,
				t.LatestReserves.RealSOLReserves, t.LatestReserves.RealTokenReserves,
				t.LatestProgress, t.FirstSeenSlot, t.Creator, t.BondingCurveAddress)
			if err != nil {
				return fmt.Errorf("persistence: upsert token %s: %w", t.MintAddress, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("persistence flush tokens", "error", err, "batch", len(batch))
	}
}

func (w *Writer) flushTrades(ctx context.Context) {
	w.mu.Lock()
	batch := w.trades
	w.trades = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	err := w.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range batch {
			_, err := tx.Exec(ctx, insertTradeSQL,
				t.Signature, t.Program, t.MintAddress, t.Slot, t.BlockTime, t.TradeType,
				t.UserAddress, t.SOLAmount, t.TokenAmount, t.PriceSOL, t.PriceUSD, t.MarketCapUSD,
				t.VolumeUSD, t.PoolOrCurve,
				t.Reserves.VirtualSOLReserves, t.Reserves.VirtualTokenReserves,
				t.Reserves.RealSOLReserves, t.Reserves.RealTokenReserves)
			if err != nil {
				return fmt.Errorf("persistence: insert trade %s/%s: %w", t.Signature, t.Program, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("persistence flush trades", "error", err, "batch", len(batch))
	}
}

func (w *Writer) flushPoolStates(ctx context.Context) {
	w.mu.Lock()
	batch := w.poolStates
	w.poolStates = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	err := w.withTx(ctx, func(tx pgx.Tx) error {
		for _, p := range batch {
			_, err := tx.Exec(ctx, insertPoolStateSQL,
				p.PoolAddress, p.Slot, p.MintAddress,
				p.Reserves.VirtualSOLReserves, p.Reserves.VirtualTokenReserves,
				p.Reserves.RealSOLReserves, p.Reserves.RealTokenReserves, p.PoolOpen)
			if err != nil {
				return fmt.Errorf("persistence: insert pool_state %s/%d: %w", p.PoolAddress, p.Slot, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("persistence flush pool_states", "error", err, "batch", len(batch))
	}
}

func (w *Writer) flushGraduations(ctx context.Context) {
	w.mu.Lock()
	batch := w.graduations
	w.graduations = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.DBTimeout)
	defer cancel()

	err := w.withTx(ctx, func(tx pgx.Tx) error {
		for _, g := range batch {
			_, err := tx.Exec(ctx, upsertGraduationSQL, g.BondingCurveAddress, g.MintAddress, g.GraduationTimestamp, g.Reason)
			if err != nil {
				return fmt.Errorf("persistence: upsert graduation %s: %w", g.MintAddress, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error("persistence flush graduations", "error", err, "batch", len(batch))
	}
}

func (w *Writer) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if w.pool == nil {
		return nil // test / dry-run mode with no database configured
	}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
