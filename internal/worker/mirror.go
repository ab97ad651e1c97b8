package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/util"

	"go.uber.org/zap"
)

// SnapshotSource publishes snapshot updates
type SnapshotSource interface {
	Subscribe(branchID string, buffer int) (<-chan aggregator.Snapshot, func())
}

// SnapshotStore keeps the latest snapshot of each branch
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, branchID string, updatedAt time.Time, body []byte, ttl time.Duration) (bool, error)
}

// SnapshotBroadcaster pushes snapshots to live subscribers
type SnapshotBroadcaster interface {
	Broadcast(ctx context.Context, branchID string, snapshot interface{}) error
}

// SnapshotMirrorWorker copies every snapshot update to Redis and NATS
type SnapshotMirrorWorker struct {
	source      SnapshotSource
	store       SnapshotStore
	broadcaster SnapshotBroadcaster
	ttl         time.Duration
	buffer      int
	logger      *zap.Logger
}

// NewSnapshotMirrorWorker creates a new mirror worker. store and broadcaster may be nil.
func NewSnapshotMirrorWorker(source SnapshotSource, store SnapshotStore, broadcaster SnapshotBroadcaster, ttl time.Duration) *SnapshotMirrorWorker {
	return &SnapshotMirrorWorker{
		source:      source,
		store:       store,
		broadcaster: broadcaster,
		ttl:         ttl,
		buffer:      256,
		logger:      util.GetLogger(),
	}
}

// Start mirrors updates until ctx is done
func (w *SnapshotMirrorWorker) Start(ctx context.Context) error {
	log.Println("Starting snapshot mirror worker...")

	updates, cancel := w.source.Subscribe("", w.buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			log.Println("Snapshot mirror worker stopping...")
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			w.mirror(ctx, snap)
		}
	}
}

func (w *SnapshotMirrorWorker) mirror(ctx context.Context, snap aggregator.Snapshot) {
	if w.store != nil {
		body, err := json.Marshal(snap)
		if err == nil {
			_, err = w.store.SaveSnapshot(ctx, snap.BranchID, snap.LastUpdated, body, w.ttl)
		}
		if err != nil {
			util.SnapshotMirrorFailed.WithLabelValues("redis").Inc()
			w.logger.Warn("Failed to mirror snapshot to Redis",
				zap.String("branch_id", snap.BranchID),
				zap.Error(err))
		}
	}

	if w.broadcaster != nil {
		if err := w.broadcaster.Broadcast(ctx, snap.BranchID, snap); err != nil {
			util.SnapshotMirrorFailed.WithLabelValues("nats").Inc()
			w.logger.Warn("Failed to broadcast snapshot",
				zap.String("branch_id", snap.BranchID),
				zap.Error(err))
		}
	}
}
