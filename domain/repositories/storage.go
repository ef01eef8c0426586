package repositories

import (
	"context"
	"time"

	"github.com/siphio/phone-receptionist/server/domain/entities"
)

// CallRecordRepository archives completed call summaries.
type CallRecordRepository interface {
	Save(ctx context.Context, record *entities.CallRecord) error
	GetByCallSID(ctx context.Context, callSID string) (*entities.CallRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*entities.CallRecord, error)
}

// StateStore keeps short-lived snapshots of live conversation state so that
// operational tooling can inspect in-flight calls without touching the
// session registry.
type StateStore interface {
	SaveSnapshot(ctx context.Context, record *entities.CallRecord, ttl time.Duration) error
	GetSnapshot(ctx context.Context, streamID string) (*entities.CallRecord, error)
	DeleteSnapshot(ctx context.Context, streamID string) error
}
