// Package checkpoint implements periodic snapshot/recovery (spec section
// 4.9): every interval it persists per-connection resume slots, group
// assignments, circuit-breaker states, and the pending-graduation set,
// and on startup it rehydrates the Stream Pool's resume slot and the
// Graduation Tracker's bonding-curve<->mint map from the last snapshot.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectionResume mirrors internal/streampool.ConnectionResume, kept
// separate so this package has no import on internal/streampool.
type ConnectionResume struct {
	ConnectionID string `json:"connection_id"`
	Slot         uint64 `json:"slot"`
	RetryCount   int    `json:"retry_count"`
	BreakerState string `json:"breaker_state"`
}

// Snapshot is the full checkpoint persisted every interval.
type Snapshot struct {
	TakenAt            time.Time           `json:"taken_at"`
	Connections        []ConnectionResume  `json:"connections"`
	GroupAssignments   map[string]string   `json:"group_assignments"`
	PendingGraduations []string            `json:"pending_graduations"`
	BCToMint           map[string]string   `json:"bc_to_mint"`
	GraduatedBCs       map[string]bool     `json:"graduated_bcs"`
}

// Sources is what the checkpoint writer reads from on each tick; small
// interfaces so this package depends on neither internal/streampool nor
// internal/graduation directly.
type Sources struct {
	ResumeState func() ([]ConnectionResume, map[string]string)
	Pending     func() []string
	Mappings    func() map[string]string
	Graduated   func() map[string]bool
}

// Writer periodically snapshots Sources into the checkpoints table.
type Writer struct {
	pool     *pgxpool.Pool
	interval time.Duration
	sources  Sources
}

func NewWriter(pool *pgxpool.Pool, interval time.Duration, sources Sources) *Writer {
	return &Writer{pool: pool, interval: interval, sources: sources}
}

// Run ticks every interval until ctx is cancelled, writing one snapshot
// per tick plus a final one on shutdown.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.snapshotOnce(context.Background())
			return
		case <-ticker.C:
			w.snapshotOnce(ctx)
		}
	}
}

func (w *Writer) snapshotOnce(ctx context.Context) {
	conns, groups := w.sources.ResumeState()
	snap := Snapshot{
		TakenAt:            time.Now(),
		Connections:        conns,
		GroupAssignments:   groups,
		PendingGraduations: w.sources.Pending(),
		BCToMint:           w.sources.Mappings(),
		GraduatedBCs:       w.sources.Graduated(),
	}
	if err := w.save(ctx, snap); err != nil {
		log.Error("checkpoint save failed", "error", err)
	}
}

func (w *Writer) save(ctx context.Context, snap Snapshot) error {
	if w.pool == nil {
		return nil // dry-run / test mode, no database configured
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, upsertCheckpointSQL, snap.TakenAt, payload)
	return err
}

// Load fetches the most recent checkpoint, if any. A nil pool or an
// empty table both report ok=false so the caller starts cold.
func Load(ctx context.Context, pool *pgxpool.Pool) (Snapshot, bool, error) {
	if pool == nil {
		return Snapshot{}, false, nil
	}
	var payload []byte
	err := pool.QueryRow(ctx, selectLatestCheckpointSQL).Scan(&payload)
	if err == pgx.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// LatestSlot returns the highest resume slot across every connection in
// the snapshot, used to seed a freshly started Stream Pool (spec section
// 4.9: "drives the initial from_slot per connection").
func (s Snapshot) LatestSlot() uint64 {
	var max uint64
	for _, c := range s.Connections {
		if c.Slot > max {
			max = c.Slot
		}
	}
	return max
}

const upsertCheckpointSQL = `
INSERT INTO checkpoints (taken_at, snapshot)
VALUES ($1, $2)
`

const selectLatestCheckpointSQL = `
SELECT snapshot FROM checkpoints ORDER BY taken_at DESC LIMIT 1
`
