// Package graduation implements the Graduation Tracker state machine
// (spec section 4.5): it couples bonding-curve account snapshots with
// later AMM activity to confirm the migration of a mint from its
// bonding curve into the AMM pool.
package graduation

import (
	"sync"
	"time"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// State is a bonding curve's place in the graduation state machine (spec
// section 4.5 table: Active -> NearGrad -> Complete).
type State string

const (
	StateActive   State = "active"
	StateNearGrad State = "near_grad"
	StateComplete State = "complete"
)

const nearGradProgressThreshold = 90

type curveRecord struct {
	state          State
	mint           string
	graduated      bool
	graduationTime time.Time
}

// Tracker owns the bonding_curve_address <-> mint bidirectional map and
// the per-curve state machine exclusively (spec section 5 resource
// table: "BC<->mint map | Graduation Tracker | Graduation Tracker only |
// read-only to others, via message"). It also implements
// internal/parser.BCMintResolver so the parser's BC account strategy can
// read -- never write -- the mapping.
type Tracker struct {
	mu         sync.Mutex
	curves     map[string]*curveRecord // bonding_curve_address -> record
	mintToBC   map[string]string       // mint -> bonding_curve_address
}

func New() *Tracker {
	return &Tracker{
		curves:   make(map[string]*curveRecord),
		mintToBC: make(map[string]string),
	}
}

// Link records a bonding_curve_address <-> mint pair, populated either
// from a BC trade or from the create instruction (spec section 4.5
// "Coupling BC<->AMM").
func (t *Tracker) Link(bondingCurve, mint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link(bondingCurve, mint)
}

func (t *Tracker) link(bondingCurve, mint string) {
	if bondingCurve == "" || mint == "" {
		return
	}
	t.mintToBC[mint] = bondingCurve
	if _, ok := t.curves[bondingCurve]; !ok {
		t.curves[bondingCurve] = &curveRecord{state: StateActive, mint: mint}
	} else {
		t.curves[bondingCurve].mint = mint
	}
}

// MintForBondingCurve implements internal/parser.BCMintResolver.
func (t *Tracker) MintForBondingCurve(bondingCurve string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.curves[bondingCurve]
	if !ok {
		return "", false
	}
	return rec.mint, rec.mint != ""
}

// BondingCurveForMint is the reverse lookup, used by the AMM-trade path
// to check whether a mint is already known to a bonding curve (spec
// section 4.5 "If an AMM trade arrives before a Graduation event for a
// known mint").
func (t *Tracker) BondingCurveForMint(mint string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bc, ok := t.mintToBC[mint]
	return bc, ok
}

// ObserveBCTrade advances the state machine from a bonding-curve trade or
// account snapshot: links the pair, and moves Active -> NearGrad once
// progress crosses 90 (spec section 4.5 table, "Active" row).
func (t *Tracker) ObserveBCTrade(bondingCurve, mint string, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link(bondingCurve, mint)

	rec, ok := t.curves[bondingCurve]
	if !ok {
		rec = &curveRecord{state: StateActive}
		t.curves[bondingCurve] = rec
	}
	if rec.state == StateActive && progress >= nearGradProgressThreshold {
		rec.state = StateNearGrad
	}
}

// ObserveComplete records that a bonding-curve account reported
// complete=true, and returns a Graduation event the first time this
// curve transitions into Complete (idempotent: spec section 4.5
// "Idempotent: at most one TokenGraduated per mint is persisted").
func (t *Tracker) ObserveComplete(bondingCurve string, at time.Time) (wire.Graduation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.curves[bondingCurve]
	if !ok {
		rec = &curveRecord{state: StateActive}
		t.curves[bondingCurve] = rec
	}
	if rec.graduated {
		return wire.Graduation{}, false
	}

	rec.state = StateComplete
	rec.graduated = true
	rec.graduationTime = at

	return wire.Graduation{
		Mint:           rec.mint,
		BondingCurve:   bondingCurve,
		GraduationTime: at,
		Reason:         wire.ReasonCompleteFlag,
	}, true
}

// ObserveAMMTrade implements the "late AMM-first" reconciliation (spec
// section 4.5: "If an AMM trade arrives before a Graduation event for a
// known mint, the tracker still emits TokenGraduated"). It returns a
// Graduation event the first time an AMM trade is seen for a mint whose
// bonding curve has not yet been marked graduated.
func (t *Tracker) ObserveAMMTrade(mint string, at time.Time) (wire.Graduation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	bc, known := t.mintToBC[mint]
	if !known {
		// An AMM trade for a mint this tracker never saw on its bonding
		// curve: nothing to graduate from its point of view.
		return wire.Graduation{}, false
	}

	rec, ok := t.curves[bc]
	if !ok {
		rec = &curveRecord{state: StateActive, mint: mint}
		t.curves[bc] = rec
	}
	if rec.graduated {
		return wire.Graduation{}, false
	}

	rec.state = StateComplete
	rec.graduated = true
	rec.graduationTime = at

	return wire.Graduation{
		Mint:           mint,
		BondingCurve:   bc,
		GraduationTime: at,
		Reason:         wire.ReasonAMMObserved,
	}, true
}

// PendingGraduations returns every mint currently in NearGrad -- not yet
// graduated but past the progress threshold -- for the periodic
// checkpoint snapshot (spec section 4.9: "pending-graduation set").
func (t *Tracker) PendingGraduations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var mints []string
	for _, rec := range t.curves {
		if rec.state == StateNearGrad {
			mints = append(mints, rec.mint)
		}
	}
	return mints
}

// Mappings returns the full bonding_curve_address -> mint map for
// checkpoint persistence.
func (t *Tracker) Mappings() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.curves))
	for bc, rec := range t.curves {
		if rec.mint != "" {
			out[bc] = rec.mint
		}
	}
	return out
}

// Rehydrate restores the bonding_curve_address <-> mint map from
// persistent storage at startup (spec section 4.9: "rehydrates the
// BC<->mint mapping from persistent storage"). Curves already graduated
// should be passed via graduatedBCs so their state starts at Complete
// rather than Active.
func (t *Tracker) Rehydrate(mappings map[string]string, graduatedBCs map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for bc, mint := range mappings {
		t.link(bc, mint)
		if graduatedBCs[bc] {
			rec := t.curves[bc]
			rec.state = StateComplete
			rec.graduated = true
		}
	}
}

// State reports the current lifecycle state of a bonding curve, for
// diagnostics and tests.
func (t *Tracker) State(bondingCurve string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.curves[bondingCurve]
	if !ok {
		return "", false
	}
	return rec.state, true
}
