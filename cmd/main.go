// Package main is the entry point for sentinel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/opspulse/sentinel/internal/config"
	"github.com/opspulse/sentinel/internal/monitoring"
	"github.com/opspulse/sentinel/internal/sentinel"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// loadEnvFiles loads .env from standard locations. SMTP credentials live
// here so they never end up in the config file.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "sentinel", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServe(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("sentinel %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	printHelp()
	os.Exit(2)
}

// resolveConfig finds the config file: user flag, then standard locations.
func resolveConfig(userConfig string) (string, error) {
	if userConfig != "" {
		if _, err := os.Stat(userConfig); err != nil {
			return "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return userConfig, nil
	}

	searchPaths := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", "sentinel", "sentinel.yaml"))
	}
	searchPaths = append(searchPaths, "configs/sentinel.yaml", "sentinel.yaml")

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file found, specify -config path")
}

// runServe starts the long-lived maintenance loop. Exit code 0 on graceful
// shutdown; non-zero when state files cannot be read or written at startup.
func runServe(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	path, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.Monitoring.LogLevel = "debug"
	}

	monitoring.Global(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})

	log.Info().
		Str("version", Version).
		Str("config", path).
		Msg("sentinel starting")

	svc, err := sentinel.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	svc.Run(ctx)
	log.Info().Msg("sentinel stopped")
}

func printHelp() {
	fmt.Println("sentinel - self-healing observability and recovery")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sentinel serve [-config FILE] [-debug]")
	fmt.Println("  sentinel version")
	fmt.Println("  sentinel help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config FILE    Config file (default: search standard locations)")
	fmt.Println("  -debug          Enable debug logging")
}
