package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"imessage-codex-bridge/internal/agentsession"
	"imessage-codex-bridge/internal/bridge"
	"imessage-codex-bridge/internal/lock"
	"imessage-codex-bridge/internal/notify"
	"imessage-codex-bridge/internal/provider"
	"imessage-codex-bridge/internal/store"
	"imessage-codex-bridge/internal/webhook"
)

// restartExitCode is the sentinel the supervising shell wrapper watches
// for to decide whether to relaunch the daemon (spec §4.6.8).
const restartExitCode = 42

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	Long: `Run the bridge daemon: poll the messaging provider for the trusted
user, spawn the coding agent, and relay messages between them until
interrupted or a restart is requested.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveRun(ctx context.Context) error {
	c, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	l := lock.New(c.LockPath)
	if err := l.Acquire(); err != nil {
		return fmt.Errorf("acquire single-instance lock: %w", err)
	}
	defer func() {
		_ = l.Release()
	}()
	if err := l.WritePID(os.Getpid()); err != nil {
		log.Warn("serve: failed to record pid in lock file", "error", err)
	}

	st, err := store.NewSQLiteStore(c.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	prov := provider.NewHTTPClient(c.ProviderAPIBase, c.ProviderAPIKey, c.ProviderAPISecret, c.SendFromNumber, 0)

	sess := agentsession.New(log, st, agentsession.Config{
		PhoneNumber:     c.TrustedUser,
		AgentBinaryPath: c.AgentBinaryPath,
		AgentWorkDir:    c.AgentWorkDir,
		ModelPrefix:     c.ModelPrefix,
		DefaultModel:    c.DefaultModel,
		SparkModel:      c.SparkModel,
	})

	pipeline := notify.New(log, st)

	br := bridge.New(log, c, st, prov, sess, pipeline)

	var webhookSrv *webhook.Server
	if c.WebhookEnabled {
		webhookSrv = webhook.New(log, pipeline, webhook.Config{
			Path:            c.WebhookPath,
			Secret:          c.WebhookSecret,
			RawExcerptBytes: c.RawExcerptBytes,
		})
		addr := fmt.Sprintf("%s:%d", c.WebhookHost, c.WebhookPort)
		go serveWebhook(log, addr, webhookSrv)
	}

	runCtx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	if err := br.Run(runCtx); err != nil {
		return fmt.Errorf("bridge run: %w", err)
	}

	if br.ConsumeRestartRequested() {
		os.Exit(restartExitCode)
	}
	return nil
}

func serveWebhook(log *slog.Logger, addr string, srv *webhook.Server) {
	log.Info("serve: starting webhook listener", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Error("serve: webhook listener stopped", "error", err)
	}
}
