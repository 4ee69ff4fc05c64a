package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/wark-project/wark/internal/apiserver"
	"github.com/wark-project/wark/internal/auth"
	"github.com/wark-project/wark/internal/config"
	"github.com/wark-project/wark/internal/httpcache"
	"github.com/wark-project/wark/internal/judge"
	"github.com/wark-project/wark/internal/ledger"
	"github.com/wark-project/wark/internal/sandbox"
	"github.com/wark-project/wark/internal/telemetry"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table, err := config.LoadCostTable(cfg.CostTableFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to load cost table: %v\n", err)
		return 1
	}

	store, err := httpcache.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to initialize http cache: %v\n", err)
		return 1
	}

	runner := sandbox.NewRunner(table)
	pipeline := judge.NewPipeline(runner, httpcache.NewFetcher(store), cfg.JudgeConcurrent)

	lgr, err := ledger.Open(ctx, cfg.DatabaseURL, cfg.CacheDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to open run ledger: %v\n", err)
		return 1
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Enabled = cfg.TelemetryOn
	telCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to initialize telemetry: %v\n", err)
		return 1
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	srv, err := apiserver.New(runner, pipeline, lgr, tel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to build api server: %v\n", err)
		return 1
	}

	keySet, err := auth.NewInMemoryKeySet()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: failed to initialize signing keys: %v\n", err)
		return 1
	}
	validator := auth.NewJWTValidator(keySet)

	opts := apiserver.DefaultOptions(":"+cfg.Port, validator)
	if err := srv.ListenAndServe(opts); err != nil {
		_, _ = fmt.Fprintf(stderr, "wark: server exited: %v\n", err)
		return 1
	}
	return 0
}
