// Package config holds the process-wide configuration for a worker host.
// The configuration is loaded once at startup into an immutable Snapshot;
// nothing else in the process reads the raw configuration source, and the
// config-get command exposes only the allow-listed slice of it.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/rurban/hardsqlite/worker/types"
)

// Config keys recognized in the configuration source. Keys outside this
// set are ignored entirely; keys outside the exported set below never
// cross the worker boundary.
const (
	KeyVersion       = "version"
	KeyBigIntEnabled = "bigIntEnabled"
	KeyVfsList       = "vfsList"
	KeyPersistentDir = "persistentDir"
	KeyLogLevel      = "logLevel"
)

// Snapshot is the immutable process configuration. PersistentDir and
// LogLevel are host-side concerns and are not part of the exported
// config-get payload.
type Snapshot struct {
	Version       string
	BigIntEnabled bool
	VfsList       []string
	PersistentDir string
	LogLevel      string
}

// Load builds a Snapshot from v, copying only the recognized keys.
// A configured persistent directory that does not exist (or is not a
// directory) is treated as unavailable rather than an error: persistence
// is an optional capability, not a precondition.
func Load(v *viper.Viper) (*Snapshot, error) {
	v.SetDefault(KeyBigIntEnabled, true)
	v.SetDefault(KeyLogLevel, "info")

	s := &Snapshot{
		Version:       v.GetString(KeyVersion),
		BigIntEnabled: v.GetBool(KeyBigIntEnabled),
		VfsList:       v.GetStringSlice(KeyVfsList),
		LogLevel:      v.GetString(KeyLogLevel),
	}
	if s.Version == "" {
		return nil, fmt.Errorf("config: %s must be set", KeyVersion)
	}

	if dir := v.GetString(KeyPersistentDir); dir != "" {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			s.PersistentDir = dir
		}
	}
	return s, nil
}

// WorkerConfig produces the config-get result payload: the allow-listed
// keys plus the synthesized persistent-storage availability flag.
func (s *Snapshot) WorkerConfig() types.ConfigResult {
	return types.ConfigResult{
		Version:           s.Version,
		BigIntEnabled:     s.BigIntEnabled,
		VfsList:           append([]string(nil), s.VfsList...),
		PersistentEnabled: s.PersistentDir != "",
	}
}
