// Agent gateway entry point.
//
// Wires the collaborators together, starts the HTTP server, and handles
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/trailguard/agent-gateway/internal/alerts"
	"github.com/trailguard/agent-gateway/internal/config"
	"github.com/trailguard/agent-gateway/internal/loopdetect"
	"github.com/trailguard/agent-gateway/internal/monitoring"
	"github.com/trailguard/agent-gateway/internal/providers"
	"github.com/trailguard/agent-gateway/internal/proxy"
	"github.com/trailguard/agent-gateway/internal/security"
	"github.com/trailguard/agent-gateway/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := parseArgs(os.Args[1:])

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway failed")
	}
}

// parseArgs handles the minimal flag surface: an optional config path.
func parseArgs(args []string) string {
	configPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			fmt.Println("Usage: gateway [-c config.yaml]")
			os.Exit(0)
		case "-c", "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
			configPath = args[i+1]
			i++
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown argument %q\n", args[i])
			os.Exit(1)
		}
	}
	return configPath
}

// initLogging sets the global zerolog level and output. Terminals get the
// console writer, everything else gets JSON lines.
func initLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	db, err := store.Open(cfg.Security.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	filter := security.NewFilter(db, db, cfg.Security.CacheTTL)

	detector := loopdetect.NewDetector(cfg.Loop.Defaults, cfg.Loop.IdleTTL)
	detector.StartSweeper(cfg.Loop.SweepInterval)

	breaker := alerts.NewBreaker(cfg.Alerts.Breaker)
	notifier := alerts.NewNotifier(cfg.Alerts.Rules, alerts.NewDeliverer(breaker, nil))

	var signer *providers.BedrockSigner
	if cfg.Bedrock.Enabled {
		signer = providers.NewBedrockSigner(ctx, cfg.Bedrock.Region)
	} else {
		signer = providers.NewBedrockSigner(ctx, "")
	}

	tracker, err := monitoring.NewTracker(cfg.Monitoring)
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}

	gw := proxy.NewGateway(cfg, filter, detector, notifier, signer, tracker)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() { done <- gw.Run() }()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		gw.Shutdown(shutdownCtx)
		return nil
	case err := <-done:
		return err
	}
}
