package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"auction-batch/internal/artifact"
	"auction-batch/internal/config"
	"auction-batch/internal/guard"
	"auction-batch/internal/health"
	"auction-batch/internal/healthlog"
	"auction-batch/internal/logging"
	"auction-batch/internal/models"
	"auction-batch/internal/orchestrator"
	"auction-batch/internal/report"
	"auction-batch/internal/runner"
	"auction-batch/internal/store"
	"auction-batch/internal/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	checkOnly := flag.Bool("check-only", false, "verify artifacts and report without running tasks")
	dateFlag := flag.String("date", "", "run date YYYY-MM-DD (default: today in RUN_TZ)")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With(zap.String("env", cfg.Env))
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logger.Warn("signal received, aborting run")
		cancel()
	}()

	runDate, err := resolveRunDate(*dateFlag, cfg)
	if err != nil {
		logger.Error("invalid run date", zap.Error(err))
		return orchestrator.ExitConfig
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath, cfg)
	if err != nil {
		logger.Error("load manifest", zap.String("path", cfg.ManifestPath), zap.Error(err))
		return orchestrator.ExitConfig
	}
	tasks, err := manifest.Select(cfg.Tasks)
	if err != nil {
		logger.Error("select tasks", zap.Error(err))
		return orchestrator.ExitConfig
	}

	registry, err := health.NewRegistry(manifest.Services)
	if err != nil {
		logger.Error("build service registry", zap.Error(err))
		return orchestrator.ExitConfig
	}
	stores, s3Store, err := artifact.OpenStores(ctx, cfg)
	if err != nil {
		logger.Error("open artifact stores", zap.Error(err))
		return orchestrator.ExitConfig
	}
	hlog, err := healthlog.Open(cfg)
	if err != nil {
		logger.Error("open health log", zap.Error(err))
		return orchestrator.ExitConfig
	}
	defer hlog.Close()

	var notifier report.Notifier
	if cfg.AlertWebhookURL != "" {
		notifier = report.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertTimeout)
	}

	deps := orchestrator.Deps{
		Guard:          guard.New(cfg.LockPath),
		Verifier:       health.NewVerifier(registry, stores, hlog, logger),
		Reporter:       report.New(hlog, notifier, logger),
		Logger:         logger,
		PushgatewayURL: cfg.PushgatewayURL,
		RunnerOptions: []runner.Option{
			runner.WithParallelism(cfg.Parallelism),
			runner.WithLogMaxMB(cfg.TaskLogMaxMB),
		},
	}
	if cfg.UploadTaskLogs && s3Store != nil {
		deps.LogStore = s3Store
	}
	if cfg.PostgresDSN != "" {
		if st, err := openArchive(ctx, cfg.PostgresDSN); err != nil {
			logger.Warn("run archive unavailable", zap.Error(err))
		} else {
			defer st.Close()
			deps.Archive = st
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	o := orchestrator.New(deps)
	if *checkOnly {
		return o.CheckOnly(ctx, serviceNames(tasks, manifest), runDate).ExitCode
	}
	return o.Nightly(ctx, tasks, runDate).ExitCode
}

func resolveRunDate(flagValue string, cfg config.Config) (time.Time, error) {
	switch {
	case flagValue != "":
		return models.ParseDate(flagValue)
	case cfg.RunDate != "":
		return models.ParseDate(cfg.RunDate)
	default:
		return models.Day(time.Now().In(cfg.Location())), nil
	}
}

// serviceNames lists the health identities of the selected tasks, falling back
// to every service in the manifest when no task is selected.
func serviceNames(tasks []models.Task, manifest config.Manifest) []string {
	if len(tasks) == 0 {
		return manifest.ServiceNames()
	}
	seen := make(map[string]bool, len(tasks))
	var out []string
	for _, t := range tasks {
		if name := t.ServiceName(); !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func openArchive(ctx context.Context, dsn string) (*store.Store, error) {
	st, err := store.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
