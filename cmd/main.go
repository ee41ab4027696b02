// Package main is the entry point for streamchat.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/config"
	"github.com/compresr/streamchat/internal/monitoring"
	"github.com/compresr/streamchat/internal/server"
	"github.com/compresr/streamchat/internal/tui"
)

// configDir returns ~/.config/streamchat, or "" without a home directory.
func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "streamchat")
}

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	if dir := configDir(); dir != "" {
		configEnv := filepath.Join(dir, ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "chat":
			os.Exit(runChat(os.Args[2:]))
		case "serve", "start":
			os.Exit(runServe(os.Args[2:]))
		case "usage":
			os.Exit(runUsage(os.Args[2:]))
		case "init":
			os.Exit(runInit(os.Args[2:]))
		case "version", "-v", "--version":
			PrintVersion()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: interactive chat
	os.Exit(runChat(os.Args[1:]))
}

// =============================================================================
// CONFIG
// =============================================================================

// resolveConfig resolves the configuration.
// Checks: user flag -> filesystem locations -> embedded config.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var searchPaths []string
	if dir := configDir(); dir != "" {
		searchPaths = append(searchPaths, filepath.Join(dir, "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("configs", defaultConfigName))

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	data, err := getEmbeddedConfig()
	if err != nil {
		return nil, "", fmt.Errorf("no config file found. Specify --config path")
	}
	return data, "(embedded) " + defaultConfigName, nil
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	config *string
	debug  *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		config: fs.String("config", "", "path to config file"),
		debug:  fs.Bool("debug", false, "enable debug logging"),
	}
}

// setup loads .env files and the configuration, then installs the global
// logger.
func setup(flags commonFlags) (*config.Config, error) {
	loadEnvFiles()

	data, source, err := resolveConfig(*flags.config)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if *flags.debug {
		cfg.Monitoring.Logger.Level = "debug"
	}
	if _, err := monitoring.Global(cfg.Monitoring.Logger); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	log.Debug().
		Str("version", Version).
		Str("config", source).
		Msg("configuration loaded")
	return cfg, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func runChat(args []string) int {
	fs, flags := newFlagSet("chat")
	noBanner := fs.Bool("no-banner", false, "suppress startup banner")
	_ = fs.Parse(args) // ExitOnError handles errors

	console := tui.Stdio()
	cfg, err := setup(flags)
	if err != nil {
		console.Error(err.Error())
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newREPL(console)
	a, err := newApp(ctx, cfg, r)
	if err != nil {
		console.Error(err.Error())
		return 1
	}
	defer a.Close()
	r.attach(a)

	// Ctrl+C stops the streaming reply; with nothing streaming it exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGINT && r.interrupt() {
				continue
			}
			console.Printf("\n")
			a.Close()
			os.Exit(130)
		}
	}()

	if !*noBanner {
		console.Banner()
	}
	console.Dim(fmt.Sprintf("model %s at %s, /help for commands", cfg.Defaults.Model, cfg.Endpoint.BaseURL))

	if err := r.run(ctx); err != nil {
		console.Error(err.Error())
		return 1
	}
	return 0
}

func runServe(args []string) int {
	fs, flags := newFlagSet("serve")
	_ = fs.Parse(args)

	cfg, err := setup(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	a, err := newApp(context.Background(), cfg, server.LogNotifier{})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer a.Close()

	srv := server.New(cfg.Server, server.Deps{
		Service:       a.service,
		Conversations: a.source,
		Metrics:       a.metrics,
		Alerts:        cfg.Monitoring.Alerts,
	})

	log.Info().
		Str("version", Version).
		Int("port", cfg.Server.Port).
		Str("endpoint", cfg.Endpoint.BaseURL).
		Bool("metrics", a.metrics != nil).
		Msg("streamchat server starting")

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("server error")
		return 1
	}

	log.Info().Msg("streamchat server stopped")
	return 0
}

func runUsage(args []string) int {
	fs, flags := newFlagSet("usage")
	_ = fs.Parse(args)

	console := tui.Stdio()
	cfg, err := setup(flags)
	if err != nil {
		console.Error(err.Error())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		console.Error(err.Error())
		return 1
	}
	defer a.Close()

	u, err := a.billing.CurrentMonth(ctx)
	if err != nil {
		console.Error(fmt.Sprintf("usage unavailable: %v", err))
		return 1
	}
	console.Info(formatUsage(u.Used, u.Subscription))
	return 0
}

func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing config")
	_ = fs.Parse(args)

	console := tui.Stdio()
	dir := configDir()
	if dir == "" {
		console.Error("cannot determine home directory")
		return 1
	}
	path := filepath.Join(dir, "config.yaml")
	if err := writeDefaultConfig(path, *force); err != nil {
		console.Error(err.Error())
		return 1
	}
	console.Success("wrote " + path)
	return 0
}

// printHelp prints usage information
func printHelp() {
	tui.Stdio().Banner()
	fmt.Println("streamchat - streaming chat client with message compression")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  streamchat [options]")
	fmt.Println("  streamchat [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat       Interactive chat (default)")
	fmt.Println("  serve      Start the HTTP/WebSocket server")
	fmt.Println("  usage      Show this month's spending")
	fmt.Println("  init       Write the default config to ~/.config/streamchat/config.yaml")
	fmt.Println("  version    Print version information")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>  Config file (default: ~/.config/streamchat/config.yaml,")
	fmt.Println("                   then configs/streamchat.yaml, then built-in)")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  %-24s API key, overrides the config\n", config.EnvAPIKey)
	fmt.Printf("  %-24s Access code, overrides the config\n", config.EnvAccessCode)
	fmt.Printf("  %-24s Endpoint base URL\n", config.EnvBaseURL)
	fmt.Printf("  %-24s Enables telemetry to this JSONL file\n", config.EnvTelemetryLog)
}
