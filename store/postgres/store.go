// Package postgres stores live drops and threshold overrides in PostgreSQL.
//
// Drops live in one row per (chat_id, entity_id); overrides in one row per
// chat_id. EnsureSchema creates both tables when missing.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/types"
)

// DefaultTablePrefix is used when Config.TablePrefix is empty.
const DefaultTablePrefix = "spawn"

// Config configures the store.
type Config struct {
	// DSN is the lib/pq connection string.
	DSN string `yaml:"dsn"`

	// TablePrefix names the tables <prefix>_drops and <prefix>_thresholds.
	TablePrefix string `yaml:"tablePrefix"`

	// MaxOpenConns bounds the connection pool (0 means the database/sql default).
	MaxOpenConns int `yaml:"maxOpenConns"`
}

// Store implements types.DropStore and types.ThresholdStore on PostgreSQL.
type Store struct {
	db     *sql.DB
	owned  bool
	logger types.Logger

	drops      string
	thresholds string
}

var (
	_ types.DropStore      = (*Store)(nil)
	_ types.ThresholdStore = (*Store)(nil)
)

// Open connects to cfg.DSN and ensures the schema.
//
// Parameters:
//   - ctx: Context for connection check and schema creation
//   - cfg: Connection settings
//   - logger: Receives warnings about skipped rows (nil for none)
//
// Returns:
//   - *Store: Ready store; Close releases the connection pool
//   - error: Connection or schema error
func Open(ctx context.Context, cfg Config, logger types.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(db, cfg.TablePrefix, logger)
	s.owned = true
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of db.
func New(db *sql.DB, tablePrefix string, logger types.Logger) *Store {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Store{
		db:         db,
		logger:     logger,
		drops:      pq.QuoteIdentifier(tablePrefix + "_drops"),
		thresholds: pq.QuoteIdentifier(tablePrefix + "_thresholds"),
	}
}

// Close closes the pool if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.drops+` (
			chat_id BIGINT NOT NULL,
			entity_id TEXT NOT NULL,
			display_name TEXT,
			rarity TEXT,
			message_id BIGINT,
			spawned_at TIMESTAMPTZ,
			media_ref TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chat_id, entity_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create drops table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.thresholds+` (
			chat_id BIGINT PRIMARY KEY,
			threshold INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create thresholds table: %w", err)
	}

	return nil
}

// Save upserts drop.
func (s *Store) Save(ctx context.Context, drop types.DropRecord) error {
	if err := drop.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.drops+` (chat_id, entity_id, display_name, rarity, message_id, spawned_at, media_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id, entity_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			rarity = EXCLUDED.rarity,
			message_id = EXCLUDED.message_id,
			spawned_at = EXCLUDED.spawned_at,
			media_ref = EXCLUDED.media_ref,
			updated_at = NOW()
	`, drop.ChatID, drop.EntityID, drop.DisplayName, string(drop.Rarity), drop.MessageID, drop.SpawnedAt.UTC(), drop.MediaRef)
	if err != nil {
		return fmt.Errorf("upsert drop for chat %d: %w", drop.ChatID, err)
	}

	return nil
}

// Delete removes the record for (chatID, entityID).
func (s *Store) Delete(ctx context.Context, chatID int64, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.drops+` WHERE chat_id = $1 AND entity_id = $2`, chatID, entityID)
	if err != nil {
		return fmt.Errorf("delete drop for chat %d: %w", chatID, err)
	}

	return nil
}

// LoadAll returns every stored record grouped by chat. Rows with missing
// required columns are logged and skipped.
func (s *Store) LoadAll(ctx context.Context) (map[int64][]types.DropRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, entity_id, display_name, rarity, message_id, spawned_at, media_ref
		FROM `+s.drops)
	if err != nil {
		return nil, fmt.Errorf("query drops: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]types.DropRecord)
	for rows.Next() {
		var (
			drop      types.DropRecord
			name      sql.NullString
			rarity    sql.NullString
			messageID sql.NullInt64
			spawnedAt sql.NullTime
			mediaRef  sql.NullString
		)
		if err := rows.Scan(&drop.ChatID, &drop.EntityID, &name, &rarity, &messageID, &spawnedAt, &mediaRef); err != nil {
			return nil, fmt.Errorf("scan drop: %w", err)
		}
		drop.DisplayName = name.String
		drop.Rarity = types.Rarity(rarity.String)
		drop.MessageID = messageID.Int64
		drop.MediaRef = mediaRef.String
		if spawnedAt.Valid {
			drop.SpawnedAt = spawnedAt.Time.UTC()
		}

		if err := drop.Validate(); err != nil {
			s.logger.Warn("skipping malformed drop row", "chat_id", drop.ChatID, "entity_id", drop.EntityID, "error", err)
			continue
		}
		out[drop.ChatID] = append(out[drop.ChatID], drop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drops: %w", err)
	}

	return out, nil
}

// Clear removes every record for chatID.
func (s *Store) Clear(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.drops+` WHERE chat_id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("clear chat %d: %w", chatID, err)
	}

	return nil
}

// SaveThreshold stores the override for chatID.
func (s *Store) SaveThreshold(ctx context.Context, chatID int64, threshold int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.thresholds+` (chat_id, threshold) VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE SET threshold = EXCLUDED.threshold, updated_at = NOW()
	`, chatID, threshold)
	if err != nil {
		return fmt.Errorf("upsert threshold for chat %d: %w", chatID, err)
	}

	return nil
}

// LoadThresholds returns all stored overrides.
func (s *Store) LoadThresholds(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, threshold FROM `+s.thresholds)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var chatID int64
		var n int
		if err := rows.Scan(&chatID, &n); err != nil {
			return nil, fmt.Errorf("scan threshold: %w", err)
		}
		out[chatID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thresholds: %w", err)
	}

	return out, nil
}

// IsUnavailable reports whether err is a connection-level failure that the
// next flush may recover from.
func IsUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception; 57P: operator intervention.
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P03"
	}

	return false
}
