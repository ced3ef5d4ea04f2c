package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/notify"
	"github.com/ppiankov/topicrelay/internal/privacy"
	"github.com/ppiankov/topicrelay/internal/relay"
	"github.com/ppiankov/topicrelay/internal/state"
	"github.com/ppiankov/topicrelay/internal/telegram"
	"github.com/ppiankov/topicrelay/internal/telemetry"
)

var (
	syncOffsetID    int
	syncLimit       int
	syncEvery       string
	syncMetricsAddr string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new topic messages and relay them",
	RunE:  syncAction,
}

func init() {
	addSyncFlags(syncCmd)
	rootCmd.AddCommand(syncCmd)
}

func addSyncFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&syncOffsetID, "offset-id", 0, "resume after this message id instead of the saved watermark")
	f.IntVar(&syncLimit, "limit", 0, "maximum messages per topic (0 uses the configured defaults)")
	f.StringVar(&syncEvery, "every", "", "repeat sync on this interval (e.g. 5m) until interrupted")
	f.StringVar(&syncMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
}

// session is what commands need from a logged-in Telegram connection.
type session interface {
	relay.Fetcher
	Topics(ctx context.Context, group string) (string, []telegram.Topic, error)
}

// withSession connects to Telegram and calls fn with a ready session.
// Replaced in tests.
var withSession = func(ctx context.Context, cfg *config.Config, log *zap.Logger, fn func(context.Context, session) error) error {
	client, err := telegram.New(telegram.Options{
		APIID:       cfg.Telegram.APIID,
		APIHash:     cfg.Telegram.APIHash,
		SessionPath: cfg.Telegram.SessionPath,
		Logger:      log,
		Verbose:     verbose,
	})
	if err != nil {
		return fmt.Errorf("create telegram client: %w", err)
	}
	return client.Run(ctx, func(ctx context.Context, s *telegram.Session) error {
		return fn(ctx, s)
	})
}

func syncAction(cmd *cobra.Command, _ []string) error {
	every, err := parseRunEvery(syncEvery)
	if err != nil {
		return err
	}
	if syncOffsetID < 0 || syncLimit < 0 {
		return errors.New("--offset-id and --limit must not be negative")
	}

	cfg, err := config.Load(configPath, overrides())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	plan, err := relay.PlanSources(cfg.Sources)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger()
	defer func() { _ = log.Sync() }()

	notifier, closeNotifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()
	if notifier == nil {
		fmt.Println("warning: no delivery target configured (slack.webhook_url or kafka.brokers); messages are only tracked")
	}

	redactor, err := buildRedactor(cfg)
	if err != nil {
		return err
	}
	var redact func(string) string
	if redactor != nil {
		redact = redactor.Apply
		log.Debug("redaction enabled", zap.Int("patterns", redactor.Len()))
	}

	st, err := state.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx := commandContext(cmd)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var metrics *telemetry.Metrics
	if syncMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err = telemetry.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		g.Go(func() error {
			if err := telemetry.Serve(gctx, syncMetricsAddr, reg); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		log.Info("serving metrics", zap.String("addr", syncMetricsAddr))
	}

	g.Go(func() error {
		defer cancel()
		return withSession(gctx, cfg, log, func(ctx context.Context, s session) error {
			engine, err := relay.NewEngine(relay.Options{
				Fetcher:  s,
				Notifier: notifier,
				Store:    st,
				Limits:   relay.Limits{Backfill: cfg.Sync.BackfillLimit, Resume: cfg.Sync.ResumeLimit},
				Redact:   redact,
				Logger:   log,
				Metrics:  metrics,
			})
			if err != nil {
				return err
			}

			ov := relay.Overrides{OffsetID: syncOffsetID, Limit: syncLimit}
			return runWatch(ctx, every, func() error {
				report, err := engine.Run(ctx, plan, ov)
				if err != nil && len(report.Results) == 0 {
					return err
				}
				printReport(os.Stdout, report)
				// Overrides apply to the first pass only; later passes resume
				// from the saved watermarks.
				ov = relay.Overrides{}
				return err
			})
		})
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted.")
		return nil
	}
	return err
}

// buildNotifier returns the configured targets, or nil when none is set.
func buildNotifier(cfg *config.Config) (notify.Notifier, func(), error) {
	var (
		targets []notify.Notifier
		closers []func() error
	)
	if cfg.HasSlack() {
		targets = append(targets, notify.NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.HasKafka() {
		k, err := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, func() {}, err
		}
		targets = append(targets, k)
		closers = append(closers, k.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	switch len(targets) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return targets[0], closeAll, nil
	default:
		return notify.Multi(targets), closeAll, nil
	}
}

func buildRedactor(cfg *config.Config) (*privacy.Redactor, error) {
	if !cfg.Privacy.Redact.Enabled || len(cfg.Privacy.Redact.Patterns) == 0 {
		return nil, nil
	}
	r, err := privacy.New(cfg.Privacy.Redact.Patterns)
	if err != nil {
		return nil, fmt.Errorf("privacy.redact: %w", err)
	}
	return r, nil
}

func parseRunEvery(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse --every: duration must be positive")
	}
	return d, nil
}

// runWatch calls runOnce immediately and then every interval until ctx is
// done. A zero interval runs once.
func runWatch(ctx context.Context, interval time.Duration, runOnce func() error) error {
	if err := runOnce(); err != nil {
		return err
	}
	if interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}

func printReport(w io.Writer, report relay.Report) {
	sources := 0
	for _, res := range report.Results {
		switch res.Status {
		case relay.StatusSkipped:
			fmt.Fprintf(w, "%s sources[%d]: unsupported type %q\n", color.YellowString("skipped"), res.Index, res.SkippedType)
			continue
		case relay.StatusSynced:
			fmt.Fprintf(w, "%s %s: %d fetched, %d delivered, watermark %d -> %d\n",
				color.GreenString("synced"), res.Key, res.Fetched, res.Delivered, res.PrevWatermark, res.Watermark)
		case relay.StatusUpToDate:
			fmt.Fprintf(w, "%s %s: no new messages (watermark %d)\n", color.CyanString("up-to-date"), res.Key, res.Watermark)
		case relay.StatusFetchFailed:
			fmt.Fprintf(w, "%s %s: %v\n", color.RedString("fetch failed"), res.Key, res.Err)
		case relay.StatusPersistFailed:
			fmt.Fprintf(w, "%s %s: %d delivered, %v\n", color.RedString("save failed"), res.Key, res.Delivered, res.Err)
		case relay.StatusInterrupted:
			fmt.Fprintf(w, "%s %s\n", color.YellowString("interrupted"), res.Key)
		}
		sources++
		for _, de := range res.DeliveryErrors {
			fmt.Fprintf(w, "  %s message %d: %v\n", color.RedString("delivery failed"), de.MessageID, de.Err)
		}
	}
	fmt.Fprintf(w, "Relayed %d messages from %d sources (run %s)\n", report.Delivered(), sources, report.RunID)
}
