package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadflow/leadflow/internal/ai"
	"github.com/leadflow/leadflow/internal/blob"
	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/crm"
	"github.com/leadflow/leadflow/internal/email"
	"github.com/leadflow/leadflow/internal/inbox"
	"github.com/leadflow/leadflow/internal/lock"
	"github.com/leadflow/leadflow/internal/logging"
	"github.com/leadflow/leadflow/internal/metrics"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/template"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var cfgFile string

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadflow",
		Short: "Leadflow - lead outreach with reply triage",
		Long: `Leadflow keeps a list of leads, mails them, pulls their replies from an
IMAP inbox, scores each reply and drafts the answer.

Run "leadflow serve" for the HTTP API, or use the commands below directly.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.leadflow/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(leadsCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(repliesCmd())
	rootCmd.AddCommand(reclassifyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything a command needs, built from one config.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *store.Store
	locks   lock.Locker
	metrics *metrics.Metrics
	service *crm.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Timeouts.Database)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger, store: db, metrics: metrics.New()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return fmt.Errorf("failed to create email sender: %w", err)
	}

	provider, err := ai.NewProvider(cfg.AI, a.log)
	if err != nil {
		return fmt.Errorf("failed to create AI provider: %w", err)
	}
	engine, err := template.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	assistant := ai.NewAssistant(provider, engine, ai.Options{
		Temperature:   cfg.AI.Temperature,
		SenderName:    cfg.Profile.Name,
		SenderCompany: cfg.Profile.Company,
		Logger:        a.log,
	})

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize attachment storage: %w", err)
	}

	a.locks, err = lock.New(cfg.Lock)
	if err != nil {
		return fmt.Errorf("failed to initialize locks: %w", err)
	}

	deps := crm.Deps{
		Store:       a.store,
		Sender:      sender,
		Generator:   assistant,
		Blobs:       blobs,
		Locks:       a.locks,
		Metrics:     a.metrics,
		Logger:      a.log,
		From:        cfg.Email.From,
		FromName:    cfg.Email.FromName,
		Profile:     cfg.Profile,
		Timeouts:    cfg.Timeouts,
		MaxMessages: cfg.Inbox.MaxMessages,
	}
	if err := cfg.ValidateInbox(); err != nil {
		a.log.Warn("reply sync disabled", "reason", err)
	} else {
		deps.Mailbox = inbox.NewMonitor(cfg.Inbox, a.log)
	}

	a.service = crm.New(deps)
	a.log.Debug("service ready",
		"email", sender.Name(),
		"generator", assistant.Name(),
		"storage", blobs.Backend(),
		"lock", cfg.Lock.Backend,
	)
	return nil
}

func (a *app) Close() {
	if c, ok := a.locks.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close database", "error", err)
	}
}
