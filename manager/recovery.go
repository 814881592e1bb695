package manager

import (
	"context"
	"log/slog"

	"github.com/xraph/batch"
	"github.com/xraph/batch/recovery"
)

// CanRecover reports whether a complete checkpoint from an earlier
// session is available.
func (m *Manager) CanRecover(ctx context.Context) bool {
	return m.recovery != nil && m.recovery.CanRecover(ctx)
}

// RecoveryInfo describes the stored checkpoint.
func (m *Manager) RecoveryInfo(ctx context.Context) (recovery.Info, error) {
	if m.recovery == nil {
		return recovery.Info{}, batch.ErrRecoveryDisabled
	}
	return m.recovery.RecoveryInfo(ctx)
}

// RecoverSession replaces the queue with the stored checkpoint. Jobs that
// were running when the previous process died become pending again with
// their progress voided. Processing must be stopped.
func (m *Manager) RecoverSession(ctx context.Context) (recovery.Recovered, error) {
	if m.recovery == nil {
		return recovery.Recovered{}, batch.ErrRecoveryDisabled
	}
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return recovery.Recovered{}, batch.ErrClosed
	case m.running || len(m.inflight) > 0:
		m.mu.Unlock()
		return recovery.Recovered{}, batch.ErrAlreadyRunning
	}
	m.mu.Unlock()

	rec, err := m.recovery.RecoverSession(ctx)
	if err != nil {
		return rec, err
	}
	m.delays.CancelAll()
	for _, j := range rec.Jobs {
		m.exts.EmitJobRecovered(ctx, &j)
	}
	m.logger.Info("queue recovered",
		slog.String("session_id", rec.SessionID),
		slog.Int("jobs", len(rec.Jobs)),
		slog.Int("reset", len(rec.Reset)),
	)
	m.changed()
	return rec, nil
}

// SessionID returns the active recovery session, if any.
func (m *Manager) SessionID() string {
	if m.recovery == nil {
		return ""
	}
	return m.recovery.SessionID()
}

// Checkpoint writes a checkpoint now, regardless of auto-save.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if m.recovery == nil {
		return batch.ErrRecoveryDisabled
	}
	return m.recovery.Checkpoint(ctx)
}
