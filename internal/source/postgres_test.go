package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/roomwatch/internal/dispatcher"
	"github.com/saaga0h/roomwatch/pkg/config"
	"github.com/saaga0h/roomwatch/pkg/postgres"
)

func TestQualifiedQuotesIdentifiers(t *testing.T) {
	assert.Equal(t, `"public"."Room Readings"`, qualified("public", "Room Readings"))
	assert.Equal(t, `"public"."a""b"`, qualified("public", `a"b`))
}

func TestQueries(t *testing.T) {
	table := qualified("occ", "B1")

	assert.Equal(t, `UPDATE "occ"."B1" SET sent = false WHERE sent IS NULL`, ensureSentQuery(table))
	assert.Equal(t,
		`SELECT id, building_id, room_id, occupied, timestamp_iso FROM "occ"."B1" WHERE sent = false ORDER BY id LIMIT $1`,
		fetchUnsentQuery(table))
	assert.Equal(t,
		`UPDATE "occ"."B1" SET sent = true, validated = $2, validation_reason = $3 WHERE id = $1`,
		markDeliveredQuery(table))
	assert.Contains(t, insertQuery(table), `INSERT INTO "occ"."B1"`)
}

func TestCreateCollectionStatements(t *testing.T) {
	stmts := createCollectionStatements("occ", "B1")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "occ"."B1"`)
	assert.Contains(t, stmts[0], "id uuid PRIMARY KEY")
	assert.Contains(t, stmts[0], "validation_reason text")
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "B1_unsent_idx" ON "occ"."B1" (id) WHERE sent = false`, stmts[1])
}

func TestNewPostgresSourceDefaultsSchema(t *testing.T) {
	s := NewPostgresSource(nil, "", nil)
	assert.Equal(t, `"public"."x"`, s.table("x"))
}

func TestPostgresSourceNotConnected(t *testing.T) {
	s := NewPostgresSource(postgres.NewClient(config.NewConfig(), nil), "public", nil)

	_, err := s.Collections(context.Background())
	assert.ErrorIs(t, err, postgres.ErrNotConnected)

	_, err = s.FetchUnsent(context.Background(), "B1", 10)
	assert.ErrorIs(t, err, postgres.ErrNotConnected)

	assert.ErrorIs(t, s.EnsureCollection(context.Background(), "B1"), postgres.ErrNotConnected)

	_, err = s.Insert(context.Background(), "B1", dispatcher.Record{BuildingID: "B1", RoomID: "R1"})
	assert.ErrorIs(t, err, postgres.ErrNotConnected)
}

// Set ROOMWATCH_TEST_POSTGRES=1 plus the usual ROOMWATCH_POSTGRES_* variables to run
func TestPostgresSourceIntegration(t *testing.T) {
	if os.Getenv("ROOMWATCH_TEST_POSTGRES") == "" {
		t.Skip("Integration test - requires PostgreSQL (set ROOMWATCH_TEST_POSTGRES=1)")
	}

	cfg := config.NewConfig()
	cfg.LoadFromEnv()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	client := postgres.NewClient(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	src := NewPostgresSource(client, cfg.SourceSchema, logger)
	coll := fmt.Sprintf("roomwatch_test_%d", time.Now().UnixNano())
	require.NoError(t, src.EnsureCollection(ctx, coll))
	defer client.Exec(context.Background(), "DROP TABLE IF EXISTS "+src.table(coll))

	var ids []uuid.UUID
	for i, room := range []string{"R1", "R2", ""} {
		id, err := src.Insert(ctx, coll, dispatcher.Record{
			BuildingID: "B1",
			RoomID:     room,
			Occupied:   i % 2,
			Timestamp:  "2026-01-01 10:00",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	colls, err := src.Collections(ctx)
	require.NoError(t, err)
	assert.Contains(t, colls, coll)

	n, err := src.EnsureSentMarker(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recs, err := src.FetchUnsent(ctx, coll, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, ids[i], rec.ID, "records come back in insertion order")
	}
	assert.Equal(t, "", recs[2].RoomID)

	require.NoError(t, src.MarkDelivered(ctx, coll, ids[0], dispatcher.Delivery{Validated: true, Reason: "ok"}))

	recs, err = src.FetchUnsent(ctx, coll, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ids[1], recs[0].ID)
}
