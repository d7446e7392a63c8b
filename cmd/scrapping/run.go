package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/schwarzT404/scrapping/pkg/cache"
	"github.com/schwarzT404/scrapping/pkg/checkpoint"
	"github.com/schwarzT404/scrapping/pkg/extract"
	"github.com/schwarzT404/scrapping/pkg/metrics"
	"github.com/schwarzT404/scrapping/pkg/orchestrate"
	"github.com/schwarzT404/scrapping/pkg/scrape"
	"github.com/schwarzT404/scrapping/pkg/session"
)

func newRunCmd() *cobra.Command {
	var (
		configPath  string
		outputPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scraping job defined in a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Secrets for login sources may live in a .env file.
			_ = godotenv.Load()

			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runJob(ctx, cfg, outputPath, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "scrapping.yaml", "job definition file")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "record output file, JSON lines (- for stdout)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address while running")
	return cmd
}

func newExtractorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extractors",
		Short: "List the available extractors",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range extract.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func runJob(ctx context.Context, cfg *FileConfig, outputPath, metricsAddr string) error {
	jobs, err := buildJobs(cfg)
	if err != nil {
		return err
	}

	checkpoints, closeCheckpoints, err := buildCheckpoints(cfg.CheckpointPath)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	store, err := buildCache(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}

	var policy orchestrate.Policy
	if cfg.RespectRobots {
		policy = orchestrate.NewRobotsPolicy(cfg.UserAgent)
	}

	o, err := orchestrate.New(orchestrate.Config{
		Jobs:            jobs,
		Concurrency:     cfg.Concurrency,
		Timeout:         time.Duration(cfg.Timeout),
		Policy:          policy,
		Checkpoints:     checkpoints,
		Cache:           store,
		UserAgent:       cfg.UserAgent,
		KeepCheckpoints: cfg.KeepCheckpoints,
	})
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		startMetricsServer(metricsAddr)
	}

	out, closeOut, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer closeOut()

	enc := json.NewEncoder(out)
	report, runErr := o.Run(ctx, func(records []scrape.RawRecord) error {
		for _, r := range records {
			row := map[string]any{"source": r.SourceID, "page": r.Page}
			for k, v := range r.Fields {
				row[k] = v
			}
			if err := enc.Encode(row); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
		return nil
	})

	printReport(report)
	if runErr != nil {
		return runErr
	}
	if report.Failed() {
		return fmt.Errorf("run %s finished with failed sources", report.RunID)
	}
	return nil
}

func buildJobs(cfg *FileConfig) ([]orchestrate.SourceJob, error) {
	jobs := make([]orchestrate.SourceJob, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		source, err := entry.SourceConfig()
		if err != nil {
			return nil, err
		}

		extractor, err := extract.Get(entry.Extractor)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", entry.ID, err)
		}

		job := orchestrate.SourceJob{Source: source, Extractor: extractor}
		if entry.Login != nil {
			login, err := session.NewFormLogin(
				entry.Login.URL,
				os.ExpandEnv(entry.Login.Username),
				os.ExpandEnv(entry.Login.Password),
			)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", entry.ID, err)
			}
			if entry.Login.CSRFField != "" {
				login.CSRFField = entry.Login.CSRFField
			}
			job.Session = login
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func buildCheckpoints(path string) (checkpoint.Store, func(), error) {
	if path == "" {
		log.Warn().Msg("No checkpoint_path configured, progress will not survive restarts")
		return checkpoint.NewMemory(), func() {}, nil
	}
	store, err := checkpoint.NewSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildCache(ctx context.Context, redisAddr string) (cache.Store, error) {
	if redisAddr == "" {
		return cache.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", redisAddr, err)
	}
	log.Info().Str("addr", redisAddr).Msg("Using Redis response cache")
	return cache.NewRedis(client), nil
}

func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printReport(report *orchestrate.RunReport) {
	if report == nil {
		return
	}
	for _, sr := range report.Sources {
		evt := log.Info()
		if sr.Status != orchestrate.StatusCompleted {
			evt = log.Warn()
		}
		evt.Str("source", sr.SourceID).
			Str("status", string(sr.Status)).
			Int("pages", sr.Pages).
			Int("records", sr.Records).
			Int("failures", len(sr.Failures)).
			Msg("Source summary")
	}
	log.Info().
		Str("run_id", report.RunID).
		Dur("duration", report.Duration).
		Int("total_records", report.TotalRecords).
		Msg("Run summary")
}
