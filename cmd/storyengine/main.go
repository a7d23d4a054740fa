// Command storyengine serves the narrative director for text RPG rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/talgya/story-engine/internal/api"
	"github.com/talgya/story-engine/internal/cache"
	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/config"
	"github.com/talgya/story-engine/internal/engine"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/persistence"
)

func main() {
	// A .env file in the working directory fills variables not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	slog.Info("story engine starting")

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Campaigns ─────────────────────────────────────────────────────
	if err := seedCampaigns(context.Background(), db, cfg.CampaignDir); err != nil {
		slog.Error("failed to seed campaigns", "error", err)
		os.Exit(1)
	}
	repo, err := campaign.NewRepository(db, cfg.CampaignCap, cfg.Graph())
	if err != nil {
		slog.Error("failed to create campaign repository", "error", err)
		os.Exit(1)
	}

	// ── Narration ─────────────────────────────────────────────────────
	llmClient := llm.NewClient(cfg.AnthropicKey, llm.Options{
		Model:        cfg.LLMModel,
		MaxPerMinute: cfg.LLMPerMinute,
		Timeout:      cfg.LLMTimeout,
	})
	if llmClient.Enabled() {
		slog.Info("narration enabled")
	} else {
		slog.Info("narration disabled (no ANTHROPIC_API_KEY)")
	}

	director := engine.New(db, cache.New(cfg.Cache()), repo, llmClient, cfg.Director())

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Director:     director,
		DB:           db,
		Repo:         repo,
		LLM:          llmClient,
		Port:         cfg.Port,
		AdminKey:     cfg.AdminKey,
		NarrateLimit: cfg.NarrateLimit,
	}
	apiServer.Start()
	fmt.Printf("API: http://localhost:%d/api/v1/health\n", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown incomplete", "error", err)
	}
	fmt.Println("Story engine stopped.")
}

// seedCampaigns stores the campaign files found in dir that the database
// does not hold yet. A missing directory seeds nothing.
func seedCampaigns(ctx context.Context, db *persistence.DB, dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("list campaigns: %w", err)
	}
	campaigns := make([]*campaign.Campaign, 0, len(paths))
	for _, p := range paths {
		c, err := campaign.LoadFile(p)
		if err != nil {
			return err
		}
		campaigns = append(campaigns, c)
	}
	slog.Info("campaign files found", "dir", dir, "count", len(campaigns))
	return db.SeedCampaigns(ctx, campaigns)
}
