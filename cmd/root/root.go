// Package root contains the root command for the application
package root

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kodjooo/email-payment-processor/internal/config"
	"github.com/kodjooo/email-payment-processor/internal/download"
	"github.com/kodjooo/email-payment-processor/internal/mailfetch"
	"github.com/kodjooo/email-payment-processor/internal/payments"
	"github.com/kodjooo/email-payment-processor/internal/pipeline"
	"github.com/kodjooo/email-payment-processor/internal/scheduler"
	"github.com/kodjooo/email-payment-processor/internal/tracking"
	"github.com/kodjooo/email-payment-processor/internal/unpack"
	"github.com/kodjooo/email-payment-processor/internal/webhook"
)

var (
	// Log is the shared logger instance for commands
	Log = logrus.New()

	// Interval between cycles in watch mode
	watchInterval time.Duration

	// Cmd is the root command
	Cmd = &cobra.Command{
		Use:   "email-processor",
		Short: "Fetches bank statement emails and forwards new payments to a webhook.",
		Long: `email-processor polls a mailbox for bank statement notifications,
downloads the linked archives, extracts payment records from the CSV files
inside and delivers payments it has not seen before to a webhook endpoint.`,
		Run: func(cmd *cobra.Command, args []string) {
			Log.Info("Use --help to see available commands")
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv()
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute a single processing cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signalContext()
			defer stop()
			return app.scheduler.RunOnce(ctx)
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run processing cycles on a fixed interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signalContext()
			defer stop()
			if err := app.scheduler.RunEvery(ctx, watchInterval); !isShutdown(err) {
				return err
			}
			Log.Info("Shutting down")
			return nil
		},
	}

	dailyCmd = &cobra.Command{
		Use:   "daily",
		Short: "Run one processing cycle per day at the configured time",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup()
			if err != nil {
				return err
			}
			defer app.close()

			loc, err := time.LoadLocation(app.cfg.Schedule.Timezone)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			err = app.scheduler.RunDaily(ctx, loc,
				app.cfg.Schedule.Hour, app.cfg.Schedule.Minute, app.cfg.Schedule.RunOnStart)
			if !isShutdown(err) {
				return err
			}
			Log.Info("Shutting down")
			return nil
		},
	}
)

// app bundles the wired collaborators a command runs with.
type app struct {
	cfg       *config.Config
	store     *tracking.Store
	scheduler *scheduler.Scheduler
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		Log.WithError(err).Warn("Failed to close tracking store")
	}
}

// setup loads configuration and wires the full pipeline.
func setup() (*app, error) {
	cfg, err := config.InitializeConfig()
	if err != nil {
		return nil, err
	}

	Log = config.ConfigureLoggingFromConfig(cfg)
	mailfetch.SetLogger(Log)
	download.SetLogger(Log)
	unpack.SetLogger(Log)
	payments.SetLogger(Log)
	webhook.SetLogger(Log)
	tracking.SetLogger(Log)
	pipeline.SetLogger(Log)
	scheduler.SetLogger(Log)

	store, err := tracking.Open(cfg.Tracking.File)
	if err != nil {
		return nil, err
	}

	columns := payments.ColumnMap{
		TransactionID: cfg.Processing.Columns["transaction_id"],
		CustomerID:    cfg.Processing.Columns["customer_id"],
		Amount:        cfg.Processing.Columns["amount"],
		Date:          cfg.Processing.Columns["date"],
		Purpose:       cfg.Processing.Columns["purpose"],
	}

	imapOpts := mailfetch.Options{
		Server:        cfg.IMAP.Server,
		Port:          cfg.IMAP.Port,
		Username:      cfg.IMAP.Username,
		Password:      cfg.IMAP.Password,
		Mailbox:       cfg.IMAP.Mailbox,
		UseSSL:        cfg.IMAP.UseSSL,
		SubjectFilter: cfg.IMAP.SubjectFilter,
		FetchLimit:    cfg.IMAP.FetchLimit,
	}

	p := pipeline.New(pipeline.Options{
		Connect: func() (pipeline.Fetcher, error) {
			return mailfetch.Connect(imapOpts)
		},
		Downloader: download.New(cfg.Browser.Headless, cfg.PageTimeout(), cfg.DownloadTimeout()),
		Unpacker:   unpack.New(),
		Parser: payments.New(cfg.Processing.FilterColumn, cfg.Processing.FilterValue,
			columns, cfg.Processing.DefaultCurrency),
		Deliverer:   webhook.New(cfg.Webhook.URL, cfg.Webhook.Token, cfg.WebhookTimeout(), cfg.Webhook.MaxAttempts),
		Ledger:      store,
		ScratchDir:  cfg.Processing.ScratchDir,
		MaxAttempts: cfg.Browser.MaxAttempts,
	})

	return &app{cfg: cfg, store: store, scheduler: scheduler.New(p)}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// isShutdown reports whether the long-running modes exited because of
// signal-driven cancellation rather than a failure.
func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Init initializes the root command and all flags
func Init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 10*time.Minute, "Time between processing cycles")

	Cmd.AddCommand(runCmd)
	Cmd.AddCommand(watchCmd)
	Cmd.AddCommand(dailyCmd)
}
