package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/roomwatch/pkg/config"
)

func TestClientBeforeConnect(t *testing.T) {
	cfg := config.NewConfig()
	c := NewClient(cfg, nil)
	ctx := context.Background()

	assert.False(t, c.IsConnected())

	_, err := c.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Transaction(ctx, func(*sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrNotConnected)

	status, err := c.HealthCheck(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "not connected", status.Error)
	assert.Equal(t, cfg.PostgresDB, status.Database)

	assert.NoError(t, c.Disconnect(), "disconnect without a pool is a no-op")
}
