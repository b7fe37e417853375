package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/pavanmanishd/refptr"
	"github.com/pavanmanishd/refptr/cache"
	"github.com/pavanmanishd/refptr/config"
	"github.com/pavanmanishd/refptr/internal/server"
	"github.com/pavanmanishd/refptr/internal/stress"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	configPath      = "refstress.cfg.yaml"
	configPathLocal = "refstress.cfg.local.yaml"
)

// setMaxProcs sets GOMAXPROCS from the available CPUs and cgroup quotas.
func setMaxProcs() {
	if _, err := maxprocs.Set(); err != nil {
		log.Err(err).Msg("[main] setting up GOMAXPROCS value failed")
		panic(err)
	}
	log.Info().Msgf("[main] optimized GOMAXPROCS=%d was set up", runtime.GOMAXPROCS(0))
}

// loadCfg loads the explicit path when given. Otherwise it tries the local
// override, then the default file, then falls back to built-in defaults.
func loadCfg(path, envFile string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path, envFile)
		if err != nil {
			return nil, err
		}
		log.Info().Msgf("[config] config loaded from '%v'", path)
		return cfg, nil
	}

	for _, p := range []string{configPathLocal, configPath} {
		cfg, err := config.Load(p, envFile)
		if err == nil {
			log.Info().Msgf("[config] config loaded from '%v'", p)
			return cfg, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	log.Info().Msg("[config] no config file found, using defaults")
	return config.Load("", envFile)
}

func setupLogger(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel())
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func stressConfig(cfg *config.Config, opts refptr.Options) stress.Config {
	return stress.Config{
		Workers:      cfg.Stress.Workers,
		OpsPerWorker: cfg.Stress.OpsPerWorker,
		Rate:         cfg.Stress.Rate,
		Burst:        cfg.Stress.Burst,
		Timeout:      cfg.Stress.Timeout,
		Seed:         cfg.Stress.Seed,
		CacheKeys:    cfg.Cache.Keys,
		Cache: cache.Config{
			NumCounters: cfg.Cache.NumCounters,
			MaxCost:     cfg.Cache.MaxCost,
			BufferItems: cfg.Cache.BufferItems,
		},
		Options: []refptr.Option{
			refptr.WithCounting(opts.Counting),
			refptr.WithLeakTracking(opts.TrackLeaks),
		},
	}
}

func run() int {
	path := pflag.StringP("config", "c", "", "path to the YAML config file")
	envFile := pflag.String("env", ".env", "dotenv file loaded into the environment before the config")
	printConfig := pflag.Bool("print-config", false, "print the effective config and exit")
	pflag.Parse()

	cfg, err := loadCfg(*path, *envFile)
	if err != nil {
		log.Err(err).Msg("[main] failed to load config")
		return 2
	}
	setupLogger(cfg)

	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			log.Err(err).Msg("[main] failed to render config")
			return 2
		}
		_, _ = os.Stdout.Write(out)
		return 0
	}

	setMaxProcs()

	opts, err := cfg.RefptrOptions()
	if err != nil {
		log.Err(err).Msg("[main] invalid refptr options")
		return 2
	}
	refLog := log.With().Str("component", "refptr").Logger()
	opts.Logger = &refLog
	refptr.SetDefaults(opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverDone := make(chan struct{})
	if cfg.Metrics.Enabled {
		srv := server.New(cfg.Metrics.Addr, log.Logger)
		go func() {
			defer close(serverDone)
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Err(err).Msg("[main] metrics server failed")
			}
		}()
	} else {
		close(serverDone)
	}

	log.Info().
		Int("workers", cfg.Stress.Workers).
		Int("ops_per_worker", cfg.Stress.OpsPerWorker).
		Stringer("counting", opts.Counting).
		Msg("[stress] starting")

	report, err := stress.Run(ctx, stressConfig(cfg, opts), log.Logger)
	log.Info().EmbedObject(report).Msg("[stress] finished")

	code := 0
	if err != nil {
		for _, v := range report.Violations {
			log.Error().Msgf("[stress] %s", v)
		}
		log.Err(err).Msg("[stress] run failed")
		code = 1
	}

	cancel()
	<-serverDone
	return code
}

func main() {
	os.Exit(run())
}
