// Package ledger implements the tamper-evident, hash-chained audit log.
//
// Every entry carries the hash of its predecessor, so the persisted
// history forms a chain: modifying any stored entry breaks verification
// from that entry onward. Entry hashes are HMAC-SHA256 under the chain's
// signing key, so an attacker without the key cannot recompute a
// consistent chain after tampering.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/trustledger/internal/crypto"
	"github.com/org/trustledger/pkg/models"
)

// GenesisHash is the prev-hash of the first chain entry. It is 64 zero
// hex digits: the width of a SHA-256 digest, but not a value HMAC-SHA256
// produces in practice, so verification can recognize entry zero
// unambiguously.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// RecordOptions carries the optional attributes of a recorded event.
type RecordOptions struct {
	UserID        string
	TaskID        string
	CorrelationID string
	Metadata      map[string]any
}

// Chain maintains the in-memory chain state and appends linked, signed
// entries through a Store. A Chain owns its state exclusively; the Store
// is shared and externally owned.
type Chain struct {
	store      Store
	signingKey []byte
	logger     zerolog.Logger

	mu          sync.Mutex // serializes Record; guards the fields below
	lastHash    string
	initialized bool
	lastVerify  *models.VerificationResult
}

// NewChain creates a chain over the given store, signed with signingKey.
// The key is held in memory only and never logged or serialized.
func NewChain(store Store, signingKey string, logger zerolog.Logger) *Chain {
	return &Chain{
		store:      store,
		signingKey: []byte(signingKey),
		logger:     logger.With().Str("component", "ledger").Logger(),
	}
}

// Initialize loads the last persisted entry and primes the chain state.
// On an empty store the chain starts from the genesis hash.
func (c *Chain) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.Last(ctx)
	if err != nil {
		if err == ErrNotFound {
			c.lastHash = GenesisHash
			c.initialized = true
			c.logger.Info().Msg("audit chain initialized empty")
			return nil
		}
		return fmt.Errorf("loading last entry: %w", err)
	}
	c.lastHash = last.Hash
	c.initialized = true
	c.logger.Info().Str("last_entry", last.ID).Msg("audit chain initialized")
	return nil
}

// Record appends a new signed entry to the chain. Calls are serialized
// internally so concurrent recorders never compute their hash from the
// same predecessor. If the store append fails, the error propagates and
// the in-memory chain state is not advanced.
func (c *Chain) Record(ctx context.Context, event string, level models.Level, message string, opts RecordOptions) (*models.AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, ErrNotInitialized
	}
	if !level.Valid() {
		return nil, fmt.Errorf("invalid audit level %q", level)
	}

	id, err := crypto.NewEntryID()
	if err != nil {
		return nil, err
	}

	entry := &models.AuditEntry{
		ID:            id,
		Timestamp:     time.Now().UnixMilli(),
		Event:         event,
		Level:         level,
		Message:       message,
		UserID:        opts.UserID,
		TaskID:        opts.TaskID,
		CorrelationID: opts.CorrelationID,
		Metadata:      opts.Metadata,
		PrevHash:      c.lastHash,
	}
	hash, err := c.entryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	if err := c.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}
	c.lastHash = entry.Hash

	c.logger.Debug().
		Str("entry", entry.ID).
		Str("event", event).
		Str("level", string(level)).
		Msg("audit entry recorded")
	return entry, nil
}

// Verify scans the whole persisted history oldest first, recomputing
// each entry's hash and checking linkage. It stops at the first broken
// entry: a broken chain cannot be trusted past the break without
// external cross-reference. Storage errors surface in the Error field,
// distinct from integrity failures. An empty chain is vacuously valid.
func (c *Chain) Verify(ctx context.Context) (*models.VerificationResult, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	c.mu.Unlock()

	result := &models.VerificationResult{
		Valid:      true,
		VerifiedAt: time.Now().UnixMilli(),
	}

	prevHash := GenesisHash
	err := c.store.Iterate(ctx, func(e *models.AuditEntry) error {
		if e.PrevHash != prevHash {
			result.Valid = false
			result.BrokenAt = e.ID
			return errScanDone
		}
		expected, err := c.entryHash(e)
		if err != nil {
			return err
		}
		if e.Hash != expected {
			result.Valid = false
			result.BrokenAt = e.ID
			return errScanDone
		}
		result.EntriesChecked++
		prevHash = e.Hash
		return nil
	})
	if err != nil && err != errScanDone {
		result.Valid = false
		result.Error = err.Error()
	}

	c.mu.Lock()
	c.lastVerify = result
	c.mu.Unlock()

	if !result.Valid {
		c.logger.Error().
			Str("broken_at", result.BrokenAt).
			Int("entries_checked", result.EntriesChecked).
			Str("error", result.Error).
			Msg("audit chain verification failed")
	} else {
		c.logger.Info().Int("entries_checked", result.EntriesChecked).Msg("audit chain verified")
	}
	return result, nil
}

// errScanDone short-circuits Iterate once a break is found.
var errScanDone = fmt.Errorf("scan done")

// Stats reports the entry count and the most recent verification
// outcome. It never triggers a fresh verification: Verify is O(n) over
// the history and re-running it is the caller's decision.
func (c *Chain) Stats(ctx context.Context) (*models.ChainStats, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	last := c.lastVerify
	c.mu.Unlock()

	count, err := c.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	return &models.ChainStats{EntryCount: count, LastVerification: last}, nil
}

// Snapshot captures chain metadata as a forensic marker, without
// mutating chain state. Taken before any recovery operation so a
// before-state is on record.
func (c *Chain) Snapshot(ctx context.Context) (*models.ChainSnapshot, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return nil, ErrNotInitialized
	}
	lastHash := c.lastHash
	c.mu.Unlock()

	count, err := c.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting entries: %w", err)
	}
	snap := &models.ChainSnapshot{
		Timestamp:    time.Now().UnixMilli(),
		EntriesCount: count,
		LastHash:     lastHash,
	}
	if lastHash != GenesisHash {
		last, err := c.store.Last(ctx)
		if err != nil && err != ErrNotFound {
			return nil, fmt.Errorf("loading last entry: %w", err)
		}
		if last != nil {
			snap.LastEntryID = last.ID
		}
	}
	return snap, nil
}

// Get returns a single entry by id.
func (c *Chain) Get(ctx context.Context, id string) (*models.AuditEntry, error) {
	return c.store.Get(ctx, id)
}

// canonicalEntry fixes the serialization field order for hashing. Struct
// fields marshal in declaration order and map keys sort, so the payload
// is reproducible by independent verifiers holding the signing key.
type canonicalEntry struct {
	ID            string         `json:"id"`
	Timestamp     int64          `json:"timestamp"`
	Event         string         `json:"event"`
	Level         models.Level   `json:"level"`
	Message       string         `json:"message"`
	UserID        string         `json:"user_id"`
	TaskID        string         `json:"task_id"`
	CorrelationID string         `json:"correlation_id"`
	Metadata      map[string]any `json:"metadata"`
	PrevHash      string         `json:"prev_hash"`
}

// entryHash computes HMAC-SHA256 over the canonical serialization of
// every entry field except Hash itself.
func (c *Chain) entryHash(e *models.AuditEntry) (string, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(canonicalEntry{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		Event:         e.Event,
		Level:         e.Level,
		Message:       e.Message,
		UserID:        e.UserID,
		TaskID:        e.TaskID,
		CorrelationID: e.CorrelationID,
		Metadata:      meta,
		PrevHash:      e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("serializing entry for hashing: %w", err)
	}
	return crypto.HMACSHA256Hex(c.signingKey, payload), nil
}

// NormalizeEvent lowercases and trims an event name for consistent
// storage and querying.
func NormalizeEvent(event string) string {
	return strings.ToLower(strings.TrimSpace(event))
}
