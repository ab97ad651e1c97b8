package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// SnapshotBroadcaster publishes branch snapshots on <prefix>.<branchId>
type SnapshotBroadcaster struct {
	conn   *nats.Conn
	prefix string
}

// NewSnapshotBroadcaster connects to NATS
func NewSnapshotBroadcaster(url, prefix string) (*SnapshotBroadcaster, error) {
	conn, err := nats.Connect(url, nats.Name("branch-ops-service"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &SnapshotBroadcaster{conn: conn, prefix: prefix}, nil
}

// ErrInvalidSubjectToken is returned for branch ids that cannot form a single subject token
var ErrInvalidSubjectToken = errors.New("branch id is not a valid subject token")

// Subject returns the subject snapshots of branchID are published on. The id
// must be one token: no separators, wildcards or whitespace.
func (b *SnapshotBroadcaster) Subject(branchID string) (string, error) {
	if branchID == "" || strings.ContainsAny(branchID, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectToken, branchID)
	}
	return fmt.Sprintf("%s.%s", b.prefix, branchID), nil
}

// Broadcast publishes one snapshot
func (b *SnapshotBroadcaster) Broadcast(ctx context.Context, branchID string, snapshot interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, err := b.Subject(branchID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return b.conn.Publish(subject, body)
}

// Close drains pending messages and closes the connection
func (b *SnapshotBroadcaster) Close() error {
	return b.conn.Drain()
}
