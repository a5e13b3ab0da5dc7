package db

import (
	"testing"

	"github.com/kasuganosora/engagebot/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Memory(t *testing.T) {
	gdb, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec("CREATE TABLE t (id INTEGER)").Error)
	require.NoError(t, gdb.Exec("INSERT INTO t VALUES (1)").Error)

	var n int64
	require.NoError(t, gdb.Raw("SELECT COUNT(*) FROM t").Scan(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestOpen_MemoryIsolated(t *testing.T) {
	a, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)
	b, err := Open(config.DatabaseConfig{Mode: ModeMemory})
	require.NoError(t, err)

	require.NoError(t, a.Exec("CREATE TABLE only_a (id INTEGER)").Error)
	assert.True(t, a.Migrator().HasTable("only_a"))
	assert.False(t, b.Migrator().HasTable("only_a"))
}

func TestOpen_UnknownMode(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: "postgres"})
	assert.Error(t, err)
}
