// sqlite-worker serves the worker protocol over stdio: one JSON request
// envelope per line on stdin, one response or row-message envelope per
// line on stdout. Logs go to stderr so they never interleave with the
// protocol stream.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rurban/hardsqlite/config"
	"github.com/rurban/hardsqlite/sqlite"
	"github.com/rurban/hardsqlite/worker/host"
	"github.com/rurban/hardsqlite/worker/port"
)

var (
	configFile    string
	persistentDir string
	logLevel      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sqlite-worker",
	Short: "Serve the SQLite worker protocol over stdio",
	Long: `sqlite-worker owns embedded SQLite database handles and processes
request envelopes one at a time from stdin, writing one response envelope
per request (plus streamed row messages) to stdout as JSON lines.`,
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (yaml)")
	rootCmd.Flags().StringVar(&persistentDir, "persistent-dir", "", "root directory for persistent databases")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
}

func runWorker(cmd *cobra.Command, args []string) error {
	snapshot, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(snapshot.LogLevel),
	}))
	slog.SetDefault(logger)

	engine := sqlite.NewEngine(logger)
	p := port.NewLinePort(os.Stdin, os.Stdout, logger)
	h := host.New(engine, snapshot, p, logger)

	logger.Info("serving", "version", snapshot.Version, "persistentDir", snapshot.PersistentDir)
	return h.Serve()
}

func loadConfig() (*config.Snapshot, error) {
	v := viper.New()
	v.SetDefault(config.KeyVersion, sqlite.LibVersion())
	v.SetEnvPrefix("SQLITE_WORKER")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if persistentDir != "" {
		v.Set(config.KeyPersistentDir, persistentDir)
	}
	if logLevel != "" {
		v.Set(config.KeyLogLevel, logLevel)
	}
	return config.Load(v)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
