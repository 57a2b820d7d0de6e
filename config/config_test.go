package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	v.Set(KeyVersion, "3.45.0")

	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "3.45.0", s.Version)
	require.True(t, s.BigIntEnabled)
	require.Equal(t, "info", s.LogLevel)
	require.Empty(t, s.PersistentDir)
}

func TestLoadRequiresVersion(t *testing.T) {
	_, err := Load(viper.New())
	require.ErrorContains(t, err, "version")
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	v := viper.New()
	v.Set(KeyVersion, "3.45.0")
	v.Set("secretToken", "hunter2")
	v.Set("anythingElse", 99)

	s, err := Load(v)
	require.NoError(t, err)

	// Only allow-listed keys reach the exported payload.
	exported := s.WorkerConfig()
	require.Equal(t, "3.45.0", exported.Version)
	require.True(t, exported.BigIntEnabled)
	require.False(t, exported.PersistentEnabled)
}

func TestPersistentDirAvailability(t *testing.T) {
	dir := t.TempDir()

	v := viper.New()
	v.Set(KeyVersion, "3.45.0")
	v.Set(KeyPersistentDir, dir)
	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, dir, s.PersistentDir)
	require.True(t, s.WorkerConfig().PersistentEnabled)

	// A missing directory means persistence is unavailable, not broken.
	v.Set(KeyPersistentDir, dir+"/nope")
	s, err = Load(v)
	require.NoError(t, err)
	require.Empty(t, s.PersistentDir)
	require.False(t, s.WorkerConfig().PersistentEnabled)
}

func TestWorkerConfigCopiesVfsList(t *testing.T) {
	v := viper.New()
	v.Set(KeyVersion, "3.45.0")
	v.Set(KeyVfsList, []string{"unix", "memdb"})

	s, err := Load(v)
	require.NoError(t, err)

	exported := s.WorkerConfig()
	require.Equal(t, []string{"unix", "memdb"}, exported.VfsList)

	// The snapshot stays immutable behind the exported copy.
	exported.VfsList[0] = "mutated"
	require.Equal(t, "unix", s.VfsList[0])
}
