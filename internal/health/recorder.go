// Package health records connection validation outcomes back to
// storage so the dashboard can show connection health and trigger
// re-authentication. Recording is telemetry: it must never abort the
// pipeline, so both record operations swallow storage errors into a
// boolean and a log line.
package health

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/storage"
)

// DefaultMaxFailures is the failure-count threshold after which a
// connection is no longer retried automatically.
const DefaultMaxFailures = 3

// ConnectionStore is the slice of storage the recorder needs.
type ConnectionStore interface {
	UpdateConnection(id string, fn func(*storage.ConnectionRecord) error) error
}

// Notifier delivers best-effort incident notifications.
type Notifier interface {
	Notify(title, body string)
}

// Recorder writes success/failure telemetry to connection records.
type Recorder struct {
	store    ConnectionStore
	notifier Notifier
	logger   *zap.Logger
}

// NewRecorder creates a recorder. notifier may be nil.
func NewRecorder(store ConnectionStore, notifier Notifier, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// RecordFailure increments the connection's failure count, stamps
// last_failure_at, overwrites the failure reason and optionally sets
// needs_reauth. When needs_reauth is set, an incident is dispatched to
// the alerting sink after the write commits. Returns false (and logs)
// instead of erroring on a missing connection.
func (r *Recorder) RecordFailure(connectionID, reason string, alsoSetNeedsReauth bool) bool {
	if connectionID == "" {
		r.logger.Warn("Cannot record failure without a connection id",
			zap.String("reason", reason))
		return false
	}

	var failureCount int
	var campaignerID string
	err := r.store.UpdateConnection(connectionID, func(conn *storage.ConnectionRecord) error {
		now := time.Now().UTC()
		conn.FailureCount++
		conn.FailureReason = reason
		conn.LastFailureAt = &now
		if alsoSetNeedsReauth {
			conn.NeedsReauth = true
		}
		failureCount = conn.FailureCount
		campaignerID = conn.CampaignerID
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("Connection not found, cannot record failure",
				zap.String("connection_id", connectionID),
				zap.String("reason", reason))
		} else {
			r.logger.Error("Failed to record connection failure",
				zap.String("connection_id", connectionID),
				zap.Error(err))
		}
		return false
	}

	r.logger.Info("Recorded connection failure",
		zap.String("connection_id", connectionID),
		zap.String("reason", reason),
		zap.Int("failure_count", failureCount),
		zap.Bool("needs_reauth", alsoSetNeedsReauth))

	if alsoSetNeedsReauth && r.notifier != nil {
		title := fmt.Sprintf("Connection %s requires re-authentication", connectionID)
		body := fmt.Sprintf(
			"**Connection:** %s\n**Campaigner:** %s\n**Reason:** %s\n**Failure count:** %d\n\nSilent token refresh is no longer possible; the platform must be re-linked.",
			connectionID, campaignerID, reason, failureCount)
		r.notifier.Notify(title, body)
	}

	return true
}

// RecordSuccess stamps last_validated_at and last_used_at. When
// resetFailureCount is set it also zeroes the failure counter and
// clears the failure reason and timestamp. needs_reauth is cleared
// unconditionally: a successful validation proves the credential
// works. Returns false (and logs) instead of erroring on a missing
// connection.
func (r *Recorder) RecordSuccess(connectionID string, resetFailureCount bool) bool {
	if connectionID == "" {
		r.logger.Warn("Cannot record success without a connection id")
		return false
	}

	err := r.store.UpdateConnection(connectionID, func(conn *storage.ConnectionRecord) error {
		now := time.Now().UTC()
		conn.LastValidatedAt = &now
		conn.LastUsedAt = &now
		if resetFailureCount {
			conn.FailureCount = 0
			conn.FailureReason = ""
			conn.LastFailureAt = nil
		}
		conn.NeedsReauth = false
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("Connection not found, cannot record success",
				zap.String("connection_id", connectionID))
		} else {
			r.logger.Error("Failed to record connection success",
				zap.String("connection_id", connectionID),
				zap.Error(err))
		}
		return false
	}

	r.logger.Debug("Recorded connection success",
		zap.String("connection_id", connectionID),
		zap.Bool("reset_failure_count", resetFailureCount))
	return true
}

// ShouldRetry reports whether a connection is still under the failure
// threshold. Pass maxFailures <= 0 to use DefaultMaxFailures.
func ShouldRetry(conn *storage.ConnectionRecord, maxFailures int) bool {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return conn.FailureCount < maxFailures
}
