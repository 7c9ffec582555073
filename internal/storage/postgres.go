// Package storage provides the PostgreSQL persistence backend: the
// append-only audit ledger table and role definition storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist. It
// aliases the ledger sentinel so the chain's not-found handling applies.
var ErrNotFound = ledger.ErrNotFound

// PostgresStore implements ledger.Store plus role definition
// persistence on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// --- Ledger (append-only; no UPDATE or DELETE paths exist here) ---

func (p *PostgresStore) Append(ctx context.Context, e *models.AuditEntry) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_entries
		   (id, ts_ms, event, level, message, user_id, task_id, correlation_id, metadata, prev_hash, hash)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Timestamp, e.Event, string(e.Level), e.Message,
		nullable(e.UserID), nullable(e.TaskID), nullable(e.CorrelationID),
		metaJSON, e.PrevHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Last(ctx context.Context) (*models.AuditEntry, error) {
	row := p.pool.QueryRow(ctx,
		entrySelect+` ORDER BY seq DESC LIMIT 1`,
	)
	return scanEntry(row)
}

func (p *PostgresStore) Iterate(ctx context.Context, fn func(*models.AuditEntry) error) error {
	rows, err := p.pool.Query(ctx, entrySelect+` ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries`).Scan(&count)
	return count, err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.AuditEntry, error) {
	row := p.pool.QueryRow(ctx, entrySelect+` WHERE id = $1::uuid`, id)
	return scanEntry(row)
}

const entrySelect = `SELECT id, ts_ms, event, level, message, user_id, task_id, correlation_id, metadata, prev_hash, hash FROM audit_entries`

func scanEntry(row pgx.Row) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var level string
	var userID, taskID, correlationID *string
	var metaJSON []byte
	err := row.Scan(&e.ID, &e.Timestamp, &e.Event, &level, &e.Message,
		&userID, &taskID, &correlationID, &metaJSON, &e.PrevHash, &e.Hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Level = models.Level(level)
	if userID != nil {
		e.UserID = *userID
	}
	if taskID != nil {
		e.TaskID = *taskID
	}
	if correlationID != nil {
		e.CorrelationID = *correlationID
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- Roles ---

func (p *PostgresStore) SaveRole(ctx context.Context, role *models.RoleDefinition) error {
	defJSON, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("encoding role: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO roles (id, name, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, definition = EXCLUDED.definition, updated_at = NOW()`,
		role.ID, role.Name, defJSON,
	)
	return err
}

func (p *PostgresStore) GetRole(ctx context.Context, id string) (*models.RoleDefinition, error) {
	var defJSON []byte
	err := p.pool.QueryRow(ctx, `SELECT definition FROM roles WHERE id = $1`, id).Scan(&defJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var role models.RoleDefinition
	if err := json.Unmarshal(defJSON, &role); err != nil {
		return nil, fmt.Errorf("decoding role: %w", err)
	}
	return &role, nil
}

func (p *PostgresStore) ListRoles(ctx context.Context) ([]*models.RoleDefinition, error) {
	rows, err := p.pool.Query(ctx, `SELECT definition FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*models.RoleDefinition
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, err
		}
		var role models.RoleDefinition
		if err := json.Unmarshal(defJSON, &role); err != nil {
			return nil, fmt.Errorf("decoding role: %w", err)
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (p *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
