// Command sidewaysbot runs the sideways-range signal bot. With -seal it
// instead encrypts a plaintext secrets file and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/sidewaysbot/internal/app"
	"github.com/alanyoungcy/sidewaysbot/internal/config"
	"github.com/alanyoungcy/sidewaysbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	sealPath := flag.String("seal", "", "encrypt this plaintext secrets TOML and exit")
	sealOut := flag.String("seal-out", "", "output path for -seal (default <input>.sealed)")
	flag.Parse()

	if *sealPath != "" {
		if err := sealSecrets(*sealPath, *sealOut); err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := newLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exited with error", slog.String("error", err.Error()))
		application.Close()
		os.Exit(1)
	}
	logger.Info("sidewaysbot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// sealSecrets encrypts src with the password from SIDEWAYS_SECRETS_PASSWORD.
func sealSecrets(src, dst string) error {
	_ = godotenv.Load()
	password := os.Getenv("SIDEWAYS_SECRETS_PASSWORD")
	if password == "" {
		return errors.New("SIDEWAYS_SECRETS_PASSWORD is not set")
	}
	if dst == "" {
		dst = src + ".sealed"
	}
	if err := crypto.SealFile(src, dst, password); err != nil {
		return err
	}
	fmt.Printf("sealed %s -> %s\n", src, dst)
	return nil
}
