package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/cache/redisstore"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/config"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/httpclient"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/router"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/server"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/logger"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/metrics"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/notify"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/pipeline"
)

var Version = "dev"

const (
	roadsFile   = "wegen_regio.geojson"
	matchesFile = "matches.geojson"
)

var errRunFailed = errors.New("run ended with error status")

func main() {
	os.Exit(run())
}

func run() int {
	httpclient.UserAgent = "buurtweg-monitor/" + Version
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "buurtweg-monitor",
		Short:         "Checks new permit dossiers against rural road records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		outDir string
		days   int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and write the GeoJSON results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			if cmd.Flags().Changed("out") {
				cfg.OutDir = outDir
			}
			if days > 0 {
				cfg.Window = time.Duration(days) * 24 * time.Hour
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appLog := buildLogger(cfg, "run")
			p, cleanup, err := buildPipeline(ctx, cfg, appLog)
			if err != nil {
				return err
			}
			defer cleanup()

			res := p.Run(ctx)
			if res.Status == model.StatusError {
				fmt.Fprintf(cmd.ErrOrStderr(), "Run failed: %s\n", res.Message)
				return errRunFailed
			}
			if err := writeOutputs(cfg.OutDir, res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Success: %s. Files written.\n", res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for "+roadsFile+" and "+matchesFile)
	cmd.Flags().IntVar(&days, "days", 0, "look-back window in days (overrides WINDOW)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /run, health probes and metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			appLog := buildLogger(cfg, "serve")
			appLog.Info("starting monitor",
				"addr", cfg.Addr,
				"version", Version,
				"wfs", cfg.WFSURL,
				"road_layers", len(cfg.RoadLayers))

			p, cleanup, err := buildPipeline(ctx, cfg, appLog)
			if err != nil {
				return err
			}
			defer cleanup()

			prov := metrics.Init(metrics.Config{
				Build:      metrics.BuildInfoFromEnv(Version),
				Collectors: observability.Collectors(),
			})

			if p.LayerCache() != nil {
				startInvalidation(ctx, cfg, appLog, p)
			}

			handler := server.NewRouter(appLog, router.NewTracker(p), prov.Handler())
			if err := server.Run(ctx, cfg, appLog, handler); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			appLog.Info("server stopped")
			return nil
		},
	}
}

func buildLogger(cfg config.Config, component string) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: component,
		Version:   Version,
	}, os.Stderr)
	return logger.NewSlog(&zl)
}

// buildPipeline connects the optional Redis and Kafka integrations when configured.
func buildPipeline(ctx context.Context, cfg config.Config, appLog *slog.Logger) (*pipeline.Pipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := pipeline.Deps{Logger: appLog}

	if cfg.LayerCache.TTL > 0 && cfg.LayerCache.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rc, err := redisstore.New(pingCtx, cfg.LayerCache.RedisAddr)
		cancel()
		if err != nil {
			// the in-process tier still works without redis
			appLog.Warn("layer cache redis unavailable", "addr", cfg.LayerCache.RedisAddr, "err", err)
		} else {
			deps.LayerStore = rc
			closers = append(closers, func() { _ = rc.Close() })
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := notify.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, appLog)
		if err != nil {
			appLog.Warn("match notifications disabled", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "err", err)
		} else {
			deps.Notifier = pub
			closers = append(closers, func() { _ = pub.Close() })
		}
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, p.Close)
	return p, cleanup, nil
}

// startInvalidation consumes dataset-update events in the background. It needs both a topic
// and an enabled layer cache; otherwise there is nothing to evict.
func startInvalidation(ctx context.Context, cfg config.Config, appLog *slog.Logger, lc kafkaconsumer.Evictor) bool {
	if lc == nil || cfg.Kafka.InvalidationTopic == "" || len(cfg.Kafka.Brokers) == 0 {
		return false
	}
	kc := kafkaconsumer.DefaultConfig(cfg.Kafka.Brokers, cfg.Kafka.InvalidationTopic, cfg.Kafka.GroupID)
	c := kafkaconsumer.New(kc, appLog, lc)
	go func() {
		if err := c.Start(ctx); err != nil {
			appLog.Error("layer invalidation consumer stopped", "err", err)
		}
	}()
	return true
}

// writeOutputs writes both collections; an empty match set is still written.
func writeOutputs(dir string, res *model.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	docs := []struct {
		name string
		doc  any
	}{
		{roadsFile, res.Roads},
		{matchesFile, res.Matches},
	}
	for _, d := range docs {
		b, err := json.Marshal(d.doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, d.name), b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", d.name, err)
		}
	}
	return nil
}
