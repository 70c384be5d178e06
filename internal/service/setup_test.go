package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/addressbooks-service/internal/backend"
	"gitlab.com/dirk.krummacker/addressbooks-service/internal/config"
)

func TestCreateRegistry(t *testing.T) {
	cfg := &config.Config{
		DBDriver: config.DriverSQLite,
		DBFile:   ":memory:",
		Backends: []config.Backend{
			{Name: "local", Type: config.TypeSQL},
			{Name: "shared", Type: config.TypeMemory, ReadOnly: true},
		},
	}
	registry, err := CreateRegistry(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer registry.Close()

	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, "local", all[0].Name())
	assert.True(t, all[0].Supports(backend.Create))
	assert.Equal(t, "shared", all[1].Name())
	assert.False(t, all[1].Supports(backend.Create))
	assert.True(t, all[1].Supports(backend.Read))

	// The SQLite tables exist.
	books, err := all[0].AddressBooksForUser(context.Background(), "dirk")
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestCreateRegistryInvalidType(t *testing.T) {
	cfg := &config.Config{
		Backends: []config.Backend{
			{Name: "shared", Type: config.TypeMemory},
			{Name: "remote", Type: "ldap"},
		},
	}
	_, err := CreateRegistry(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, `backend "remote" has invalid type "ldap"`)
}
