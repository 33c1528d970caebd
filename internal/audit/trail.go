// Package audit accumulates the changes one request makes and writes them
// as a single audit row when the request ends.
package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"github.com/nridwan/elysian-realm-sub000/pkg/logger"
)

type Change = models.AuditChange

var ErrEmptyTableName = errors.New("audit change requires a table name")

// Entry is what a Sink persists for one flushed request.
type Entry struct {
	UserID    *uuid.UUID
	Action    string
	Changes   []Change
	IPAddress string
	UserAgent string
}

type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Trail is the per-request audit context. It is never shared between
// requests.
type Trail struct {
	mu              sync.Mutex
	sink            Sink
	actionRecorded  bool
	initialAction   string
	changes         []Change
	rollbackPending bool
	flushed         bool
	actor           *uuid.UUID
}

// NewTrail returns an empty trail. A nil sink makes every flush a no-op.
func NewTrail(sink Sink) *Trail {
	return &Trail{sink: sink}
}

// RecordStartAction labels the request. Only the first label counts.
func (t *Trail) RecordStartAction(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.actionRecorded {
		return
	}
	t.actionRecorded = true
	t.initialAction = label
}

// RecordChange appends one before/after pair. Values are kept as given.
func (t *Trail) RecordChange(tableName string, oldValue, newValue any) error {
	if tableName == "" {
		return ErrEmptyTableName
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.changes = append(t.changes, Change{TableName: tableName, OldValue: oldValue, NewValue: newValue})
	return nil
}

// SetActor attributes the row to userID when no principal is attached,
// e.g. on a login route.
func (t *Trail) SetActor(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.actor = &userID
}

func (t *Trail) MarkForRollback() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollbackPending = true
}

func (t *Trail) RollbackPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rollbackPending
}

func (t *Trail) Action() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.initialAction
}

// Changes returns a copy of the pending changes, or nil when there are none.
func (t *Trail) Changes() []Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.changes) == 0 {
		return nil
	}
	out := make([]Change, len(t.changes))
	copy(out, t.changes)
	return out
}

// Flush writes at most one row. Nothing is written when rollback is
// pending, when no action was recorded, or when an earlier flush already
// wrote the row and no change arrived since. Pending changes are cleared
// once handed to the sink. Sink errors are logged and returned.
func (t *Trail) Flush(ctx context.Context, meta RequestMeta) error {
	t.mu.Lock()
	if t.rollbackPending {
		t.changes = nil
		t.mu.Unlock()
		return nil
	}
	if !t.actionRecorded || (t.flushed && len(t.changes) == 0) {
		t.mu.Unlock()
		return nil
	}

	entry := Entry{
		UserID:    meta.UserID,
		Action:    t.initialAction,
		Changes:   t.changes,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if entry.UserID == nil {
		entry.UserID = t.actor
	}
	if entry.Changes == nil {
		entry.Changes = []Change{}
	}
	t.changes = nil
	t.flushed = true
	sink := t.sink
	t.mu.Unlock()

	if sink == nil {
		return nil
	}
	if err := sink.Write(ctx, entry); err != nil {
		logger.Error("audit_flush_failed", err, map[string]interface{}{
			"action":  entry.Action,
			"changes": len(entry.Changes),
		})
		return err
	}
	return nil
}
