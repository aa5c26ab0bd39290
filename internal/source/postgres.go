package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saaga0h/roomwatch/internal/dispatcher"
	"github.com/saaga0h/roomwatch/pkg/postgres"
)

// PostgresSource treats every table of one schema as a collection of raw
// occupancy records:
//
//	id uuid (v7), building_id, room_id, occupied, timestamp_iso,
//	sent, validated, validation_reason
type PostgresSource struct {
	client postgres.Client
	schema string
	logger *slog.Logger
}

// NewPostgresSource creates a record source over the given schema
func NewPostgresSource(client postgres.Client, schema string, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	if schema == "" {
		schema = "public"
	}
	return &PostgresSource{client: client, schema: schema, logger: logger}
}

const collectionsQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

// Collections lists base tables in the schema. Exclusions are applied by the dispatcher.
func (s *PostgresSource) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.client.Query(ctx, collectionsQuery, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections in %s: %w", s.schema, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list collections in %s: %w", s.schema, err)
	}
	return names, nil
}

// EnsureSentMarker sets sent=false on records that have no marker yet
func (s *PostgresSource) EnsureSentMarker(ctx context.Context, collection string) (int64, error) {
	res, err := s.client.Exec(ctx, ensureSentQuery(s.table(collection)))
	if err != nil {
		return 0, fmt.Errorf("failed to initialise sent marker in %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		s.logger.Debug("Initialised sent marker", "collection", collection, "records", n)
	}
	return n, nil
}

// FetchUnsent returns up to limit unsent records ordered by id, which for
// UUIDv7 is insertion order
func (s *PostgresSource) FetchUnsent(ctx context.Context, collection string, limit int) ([]dispatcher.Record, error) {
	rows, err := s.client.Query(ctx, fetchUnsentQuery(s.table(collection)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent records from %s: %w", collection, err)
	}
	defer rows.Close()

	var records []dispatcher.Record
	for rows.Next() {
		var (
			rec                dispatcher.Record
			building, room, ts sql.NullString
			occupied           sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &building, &room, &occupied, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan record from %s: %w", collection, err)
		}
		rec.BuildingID = building.String
		rec.RoomID = room.String
		rec.Occupied = int(occupied.Int64)
		rec.Timestamp = ts.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch unsent records from %s: %w", collection, err)
	}
	return records, nil
}

// MarkDelivered flags the record as sent and stores the delivery outcome
func (s *PostgresSource) MarkDelivered(ctx context.Context, collection string, id uuid.UUID, d dispatcher.Delivery) error {
	_, err := s.client.Exec(ctx, markDeliveredQuery(s.table(collection)), id, d.Validated, d.Reason)
	if err != nil {
		return fmt.Errorf("failed to mark record %s in %s: %w", id, collection, err)
	}
	return nil
}

// EnsureCollection creates the collection table and its unsent index if missing
func (s *PostgresSource) EnsureCollection(ctx context.Context, collection string) error {
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range createCollectionStatements(s.schema, collection) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

// Insert appends a raw record. A zero ID is replaced by a fresh UUIDv7.
func (s *PostgresSource) Insert(ctx context.Context, collection string, rec dispatcher.Record) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to generate record id: %w", err)
		}
		rec.ID = id
	}

	_, err := s.client.Exec(ctx, insertQuery(s.table(collection)),
		rec.ID, nullString(rec.BuildingID), nullString(rec.RoomID), rec.Occupied, nullString(rec.Timestamp))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert record into %s: %w", collection, err)
	}
	return rec.ID, nil
}

func (s *PostgresSource) table(collection string) string {
	return qualified(s.schema, collection)
}

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func ensureSentQuery(table string) string {
	return "UPDATE " + table + " SET sent = false WHERE sent IS NULL"
}

func fetchUnsentQuery(table string) string {
	return "SELECT id, building_id, room_id, occupied, timestamp_iso FROM " + table +
		" WHERE sent = false ORDER BY id LIMIT $1"
}

func markDeliveredQuery(table string) string {
	return "UPDATE " + table + " SET sent = true, validated = $2, validation_reason = $3 WHERE id = $1"
}

func insertQuery(table string) string {
	return "INSERT INTO " + table +
		" (id, building_id, room_id, occupied, timestamp_iso) VALUES ($1, $2, $3, $4, $5)"
}

func createCollectionStatements(schema, collection string) []string {
	table := qualified(schema, collection)
	index := pq.QuoteIdentifier(collection + "_unsent_idx")
	return []string{
		"CREATE TABLE IF NOT EXISTS " + table + ` (
	id uuid PRIMARY KEY,
	building_id text,
	room_id text,
	occupied integer NOT NULL DEFAULT 0,
	timestamp_iso text,
	sent boolean,
	validated boolean,
	validation_reason text
)`,
		"CREATE INDEX IF NOT EXISTS " + index + " ON " + table + " (id) WHERE sent = false",
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
