package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/voicetyped/conversation/pkg/conversation"
)

// Repository stores and queries transitions.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new transition repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the transitions table.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db(ctx, false).AutoMigrate(&Transition{}); err != nil {
		return fmt.Errorf("migrate transitions: %w", err)
	}
	return nil
}

// RecordTransition persists one transition. It satisfies
// conversation.TransitionRecorder.
func (r *Repository) RecordTransition(ctx context.Context, rec conversation.TransitionRecord) error {
	return r.db(ctx, false).Create(FromRecord(rec)).Error
}

// ListBySession returns a session's transitions, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]conversation.TransitionRecord, error) {
	var rows []Transition
	q := r.db(ctx, true).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]conversation.TransitionRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Record())
	}
	return out, nil
}

// DeleteBySession soft-deletes a session's transitions.
func (r *Repository) DeleteBySession(ctx context.Context, sessionID string) error {
	return r.db(ctx, false).Where("session_id = ?", sessionID).Delete(&Transition{}).Error
}
