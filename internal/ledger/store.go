package ledger

import (
	"context"
	"errors"

	"github.com/org/trustledger/pkg/models"
)

// ErrNotFound is returned when a requested entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the chain is used before Initialize.
var ErrNotInitialized = errors.New("audit chain not initialized")

// Store is the append-only persistence contract the chain depends on.
// Append must be durable before returning nil. Iterate replays all
// entries oldest first.
type Store interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Last(ctx context.Context) (*models.AuditEntry, error)
	Iterate(ctx context.Context, fn func(*models.AuditEntry) error) error
	Count(ctx context.Context) (int64, error)
	Get(ctx context.Context, id string) (*models.AuditEntry, error)
}
