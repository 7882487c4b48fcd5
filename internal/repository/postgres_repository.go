package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/proptax/calculator/api/internal/database"
	"github.com/proptax/calculator/api/internal/models"
)

// PostgresRepository stores cache entries as JSONB documents. The entry table
// is named after the collection; archived snapshots go to <collection>_versions.
type PostgresRepository struct {
	db            *database.Database
	entriesTable  string
	versionsTable string
	versionsIndex string
}

var _ PropertyRepository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a PropertyRepository backed by PostgreSQL.
// Call EnsureSchema before first use.
func NewPostgresRepository(db *database.Database, collection string) *PostgresRepository {
	return &PostgresRepository{
		db:            db,
		entriesTable:  pgx.Identifier{collection}.Sanitize(),
		versionsTable: pgx.Identifier{collection + "_versions"}.Sanitize(),
		versionsIndex: pgx.Identifier{collection + "_versions_key_scraped_idx"}.Sanitize(),
	}
}

// EnsureSchema creates the entry and version tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key        TEXT PRIMARY KEY,
				document   JSONB NOT NULL,
				scraped_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, r.entriesTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				version_id   TEXT PRIMARY KEY,
				property_key TEXT NOT NULL,
				document     JSONB NOT NULL,
				scraped_at   TIMESTAMPTZ,
				archived_at  TIMESTAMPTZ NOT NULL
			)`, r.versionsTable),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (property_key, scraped_at DESC)`,
			r.versionsIndex, r.versionsTable),
	}

	for _, stmt := range statements {
		if _, err := r.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure property cache schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE key = $1`, r.entriesTable)

	var document []byte
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(&document)
	if err != nil {
		// No row is a miss, not an error.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query property %s: %w", key, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(document, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode property %s: %w", key, err)
	}
	entry.Key = key
	entry.VersionID = ""
	return &entry, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, key string, write models.PropertyWrite) (*models.SaveResult, error) {
	var result *models.SaveResult

	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		var prev *models.CacheEntry

		var document []byte
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT document FROM %s WHERE key = $1 FOR UPDATE`, r.entriesTable),
			key,
		).Scan(&document)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read previous: %w", err)
		default:
			var existing models.CacheEntry
			if err := json.Unmarshal(document, &existing); err != nil {
				return fmt.Errorf("decode previous: %w", err)
			}
			prev = &existing

			// The stored JSONB is archived as-is.
			_, err := tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (version_id, property_key, document, scraped_at, archived_at)
					VALUES ($1, $2, $3, $4, $5)`, r.versionsTable),
				newVersionID(write.Now), key, document, nullableTime(existing), write.Now,
			)
			if err != nil {
				return fmt.Errorf("archive previous: %w", err)
			}
		}

		entry := buildEntry(key, prev, write)
		encoded, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode entry: %w", err)
		}

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (key, document, scraped_at, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (key) DO UPDATE
				SET document = EXCLUDED.document,
					scraped_at = EXCLUDED.scraped_at,
					updated_at = EXCLUDED.updated_at`, r.entriesTable),
			key, encoded, entry.ScrapedAt, entry.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("write entry: %w", err)
		}

		result = saveResult(entry, prev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert property %s: %w", key, err)
	}

	return result, nil
}

func (r *PostgresRepository) History(ctx context.Context, key string, limit int) ([]models.CacheEntry, error) {
	query := fmt.Sprintf(`
		SELECT version_id, document
		FROM %s
		WHERE property_key = $1
		ORDER BY scraped_at DESC NULLS LAST, version_id DESC
		LIMIT $2`, r.versionsTable)

	if limit <= 0 {
		limit = maxHistoryRows
	}

	rows, err := r.db.Pool.Query(ctx, query, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", key, err)
	}
	defer rows.Close()

	result := []models.CacheEntry{}
	for rows.Next() {
		var versionID string
		var document []byte
		if err := rows.Scan(&versionID, &document); err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}

		var entry models.CacheEntry
		if err := json.Unmarshal(document, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode version %s: %w", versionID, err)
		}
		entry.Key = key
		entry.VersionID = versionID
		result = append(result, entry)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating version rows: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// maxHistoryRows caps an unbounded History call.
const maxHistoryRows = 1000

func nullableTime(e models.CacheEntry) any {
	if e.ScrapedAt.IsZero() {
		return nil
	}
	return e.ScrapedAt
}
