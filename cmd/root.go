package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/config"
	"imessage-codex-bridge/internal/store"
)

// Package-level shared dependencies, resolved lazily so commands that
// don't need them (e.g. config show) can run without a database.
var (
	cfgFile   string
	cfg       *config.Config
	dataStore store.Store

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "A local daemon that bridges a trusted messaging user to a stdio JSON-RPC agent",
	Long: `bridge runs an always-on daemon that polls a messaging provider for a
single trusted user, relays their messages to a locally-spawned coding
agent over JSON-RPC, and relays the agent's replies back.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = fmt.Sprintf("%s (%s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.config/imessage-codex-bridge/config.yaml)")
}

// loadConfig resolves the shared, validated config, initializing it on
// first call.
func loadConfig() (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewSQLiteStore(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	dataStore = s
	return dataStore, nil
}
