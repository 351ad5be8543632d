package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlosprados/keeper/internal/agent"
	"github.com/carlosprados/keeper/internal/config"
	"github.com/carlosprados/keeper/internal/logging"
	"github.com/rs/zerolog/log"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	httpAddr := flag.String("http", "", "HTTP listen address; overrides the config")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("keeper %s (%s)\n", version, commit)
		return
	}

	if err := config.LoadDotEnvDefault(); err != nil {
		fmt.Fprintf(os.Stderr, "keeper: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeper: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeper: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(agent.Options{Config: cfg})
	if err != nil {
		log.Fatal().Err(err).Msg("agent init failed")
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("agent start failed")
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("version", version).Str("data_dir", cfg.DataDir).Msg("keeper starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping servers")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := a.Close(shutCtx); err != nil {
		log.Warn().Err(err).Msg("agent close error")
	}
	log.Info().Msg("bye")
}
