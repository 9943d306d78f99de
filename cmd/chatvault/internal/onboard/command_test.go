package onboard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copperline/chatvault/pkg/config"
)

func TestNewOnboardCommand(t *testing.T) {
	cmd := NewOnboardCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "onboard", cmd.Use)
	assert.Contains(t, cmd.Aliases, "init")
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("force"))
}

func TestOnboardWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, onboardCmd(path, false))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Gateway.Port)
	assert.Equal(t, "chatvault", cfg.Storage.Database)
}

func TestOnboardRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, onboardCmd(path, false))

	err := onboardCmd(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, onboardCmd(path, true))
}
