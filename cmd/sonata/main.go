package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mmcdole/sonata/internal/cache"
	"github.com/mmcdole/sonata/internal/config"
	"github.com/mmcdole/sonata/internal/downloads"
	"github.com/mmcdole/sonata/internal/log"
	"github.com/mmcdole/sonata/internal/manager"
	"github.com/mmcdole/sonata/internal/source/subsonic"
	"github.com/mmcdole/sonata/internal/store"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	// Handle version flag
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("sonata %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := log.Setup(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Info("starting sonata", "version", Version)

	// Check if configured
	if !cfg.IsConfigured() {
		return runSetupFlow(cfg)
	}

	// Wire the store, caching adapter, server adapter and coordinator
	st, err := store.NewStore(cfg.Cache.Dir, cfg.Server.URL)
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}

	caching := cache.New(st, logger)
	ground := subsonic.NewClient(cfg.Server.URL, cfg.Server.Username, cfg.Server.Password, logger)

	coordinator, err := downloads.New(
		filepath.Join(os.TempDir(), "sonata-staging"),
		logger,
		downloads.WithLimit(cfg.Cache.ConcurrentDownloadLimit),
	)
	if err != nil {
		return fmt.Errorf("failed to create download coordinator: %w", err)
	}

	mgr := manager.New(ground, caching,
		manager.WithLogger(logger),
		manager.WithCoordinator(coordinator),
	)
	defer mgr.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Smoke flow: list playlists so a fresh setup can be verified from the
	// command line before a frontend is attached
	playlists, err := mgr.GetPlaylists(ctx).Get()
	if err != nil {
		return fmt.Errorf("failed to fetch playlists: %w", err)
	}

	fmt.Printf("Connected to %s as %s\n", cfg.Server.URL, cfg.Server.Username)
	fmt.Printf("%d playlists:\n", len(playlists))
	for _, p := range playlists {
		fmt.Printf("  %s (%d songs, %s)\n", p.Name, p.SongCount, p.Duration)
	}

	logger.Info("shutting down")
	return nil
}

// runSetupFlow prompts for server connection details on first run
func runSetupFlow(cfg *config.Config) error {
	fmt.Println()
	fmt.Println("Welcome to Sonata!")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("Enter your Subsonic server URL (e.g., https://music.example.com): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		url := strings.TrimSpace(input)
		if url == "" {
			fmt.Println("Server URL cannot be empty. Please try again.")
			continue
		}
		cfg.Server.URL = url
		break
	}

	fmt.Print("Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	cfg.Server.Username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	cfg.Server.Password = strings.TrimSpace(password)

	if err := config.SaveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("✓ Configuration saved!")
	fmt.Println()
	fmt.Println("Run sonata again to connect.")
	return nil
}
