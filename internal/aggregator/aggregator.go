package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"branch-ops-service/internal/util"

	"go.uber.org/zap"
)

// ErrMissingFields is returned when the event envelope lacks its name or branch.
var ErrMissingFields = errors.New("missing required fields: event, branchId")

// BranchLookup supplies configuration for branches seen for the first time.
// Implementations must answer from memory; it is called under a branch lock.
type BranchLookup interface {
	Lookup(branchID string) BranchDefaults
}

// StaticLookup returns the same defaults for every branch
type StaticLookup BranchDefaults

// Lookup implements BranchLookup
func (l StaticLookup) Lookup(string) BranchDefaults {
	return BranchDefaults(l)
}

// Options configures an Aggregator
type Options struct {
	Lookup            BranchLookup
	BreachLogCapacity int
	Logger            *zap.Logger
}

type branchState struct {
	mu   sync.Mutex
	snap *Snapshot
}

type subscription struct {
	branchID string
	ch       chan Snapshot
}

// Aggregator owns the per-branch metrics snapshots. Events for one branch are
// serialized by that branch's lock; different branches never contend.
type Aggregator struct {
	mu       sync.RWMutex
	branches map[string]*branchState

	handlers  map[string]eventHandler
	lookup    BranchLookup
	breachCap int
	logger    *zap.Logger

	subMu       sync.RWMutex
	subscribers map[uint64]*subscription
	nextSubID   uint64
}

// NewAggregator creates an aggregator with the built-in dispatch table
func NewAggregator(opts Options) (*Aggregator, error) {
	handlers := defaultHandlers()
	if err := validateHandlers(handlers, KnownEvents); err != nil {
		return nil, err
	}

	if opts.Lookup == nil {
		opts.Lookup = StaticLookup{}
	}
	if opts.Logger == nil {
		opts.Logger = util.GetLogger()
	}

	return &Aggregator{
		branches:    make(map[string]*branchState),
		handlers:    handlers,
		lookup:      opts.Lookup,
		breachCap:   opts.BreachLogCapacity,
		logger:      opts.Logger,
		subscribers: make(map[uint64]*subscription),
	}, nil
}

// ApplyEvent folds one event into the branch snapshot and returns a copy of the result.
// Unknown event names and malformed payloads are logged and leave the snapshot unchanged.
func (a *Aggregator) ApplyEvent(ctx context.Context, branchID, event string, data json.RawMessage, at time.Time) (Snapshot, error) {
	_, span := util.StartSpan(ctx, "Aggregator.ApplyEvent")
	defer span.End()

	if branchID == "" || event == "" {
		return Snapshot{}, ErrMissingFields
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	state := a.branch(branchID)
	state.mu.Lock()
	defer state.mu.Unlock()

	handler, ok := a.handlers[event]
	if !ok {
		util.BranchLogger(a.logger, branchID, zap.String("event", event)).
			Info("Ignoring unknown branch event")
		util.BranchEventsTotal.WithLabelValues("unknown", "ignored").Inc()
		return state.snap.clone(), nil
	}

	if err := handler(state.snap, data, mutation{at: at, breachCap: a.breachCap}); err != nil {
		util.BranchLogger(a.logger, branchID, zap.String("event", event)).
			Warn("Ignoring malformed branch event", zap.Error(err))
		util.BranchEventsTotal.WithLabelValues(event, "malformed").Inc()
		return state.snap.clone(), nil
	}

	state.snap.recompute()
	if at.After(state.snap.LastUpdated) {
		state.snap.LastUpdated = at
	}
	util.BranchEventsTotal.WithLabelValues(event, "applied").Inc()

	snap := state.snap.clone()
	a.publish(snap)
	return snap, nil
}

// Snapshot returns a copy of the branch snapshot, if the branch has seen any event
func (a *Aggregator) Snapshot(branchID string) (Snapshot, bool) {
	a.mu.RLock()
	state, ok := a.branches[branchID]
	a.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.snap.clone(), true
}

// Snapshots returns copies of every branch snapshot ordered by branch id
func (a *Aggregator) Snapshots() []Snapshot {
	a.mu.RLock()
	ids := make([]string, 0, len(a.branches))
	for id := range a.branches {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	sort.Strings(ids)
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := a.Snapshot(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// ResetDay zeroes the day-scoped counters of a branch
func (a *Aggregator) ResetDay(branchID string) (Snapshot, bool) {
	a.mu.RLock()
	state, ok := a.branches[branchID]
	a.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.snap.resetDay()
	state.snap.LastUpdated = time.Now().UTC()
	a.logger.Info("Branch day counters reset", zap.String("branch_id", branchID))

	snap := state.snap.clone()
	a.publish(snap)
	return snap, true
}

// Configure replaces the fixed branch values (table and staff totals, SLA
// targets) of an existing snapshot. Branches not yet seen are ignored; they
// pick the values up from the lookup when created.
func (a *Aggregator) Configure(branchID string, d BranchDefaults) {
	a.mu.RLock()
	state, ok := a.branches[branchID]
	a.mu.RUnlock()
	if !ok {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.snap.applyDefaults(d)
	state.snap.recompute()
	a.publish(state.snap.clone())
}

// Subscribe delivers a copy of every new snapshot of branchID, or of every
// branch when branchID is empty. Slow subscribers miss updates rather than
// block ingestion. The returned func cancels the subscription.
func (a *Aggregator) Subscribe(branchID string, buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{branchID: branchID, ch: make(chan Snapshot, buffer)}

	a.subMu.Lock()
	a.nextSubID++
	id := a.nextSubID
	a.subscribers[id] = sub
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subscribers, id)
			close(sub.ch)
			a.subMu.Unlock()
		})
	}
	return sub.ch, cancel
}

// branch returns the state for branchID, creating it with configured defaults.
func (a *Aggregator) branch(branchID string) *branchState {
	a.mu.RLock()
	state, ok := a.branches[branchID]
	a.mu.RUnlock()
	if ok {
		return state
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if state, ok = a.branches[branchID]; ok {
		return state
	}

	state = &branchState{snap: newSnapshot(branchID, a.lookup.Lookup(branchID))}
	a.branches[branchID] = state
	util.BranchSnapshotsTracked.Set(float64(len(a.branches)))
	a.logger.Info("Created metrics snapshot for branch", zap.String("branch_id", branchID))
	return state
}

// publish is called with the branch lock held so subscribers see a branch's
// snapshots in mutation order.
func (a *Aggregator) publish(snap Snapshot) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()

	for _, sub := range a.subscribers {
		if sub.branchID != "" && sub.branchID != snap.BranchID {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			util.SnapshotUpdatesDropped.Inc()
		}
	}
}
