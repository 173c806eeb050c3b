// Package audit records one immutable entry per state-changing operation.
// Recording is an observability concern: it never blocks or fails the
// triggering operation.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/pkg/ctxlog"
)

// Recorder writes audit entries. Storage failures are logged and swallowed.
type Recorder struct {
	repo  Repository
	clock func() time.Time
}

// NewRecorder creates a new audit recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, clock: time.Now}
}

// NewRecorderWithClock creates a recorder with an injected clock for tests.
func NewRecorderWithClock(repo Repository, clock func() time.Time) *Recorder {
	return &Recorder{repo: repo, clock: clock}
}

// Record appends one audit entry. Errors never propagate to the caller.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.clock()
	}
	if entry.Result == "" {
		entry.Result = domain.AuditResultSuccess
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	if err := r.repo.Insert(ctx, &entry); err != nil {
		entriesFailed.Inc()
		ctxlog.FromContext(ctx).Error("failed to record audit entry",
			"action", entry.Action,
			"resource", entry.Resource,
			"error", err,
		)
		return
	}
	entriesRecorded.WithLabelValues(entry.Action).Inc()
}

// List returns audit entries matching the filter, newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, int, error) {
	entries, total, err := r.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries past the retention window. Called by the
// scheduled prune job.
func (r *Recorder) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := r.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit entries: %w", err)
	}
	if deleted > 0 {
		entriesPruned.Add(float64(deleted))
		ctxlog.FromContext(ctx).Info("pruned expired audit entries", "count", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
