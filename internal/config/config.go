// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/talgya/story-engine/internal/cache"
	"github.com/talgya/story-engine/internal/engine"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/storygraph"
	"github.com/talgya/story-engine/internal/twist"
)

// Config holds every tunable of the story engine.
type Config struct {
	Port        int    `env:"STORY_PORT"         envDefault:"8000"`
	DBPath      string `env:"STORY_DB_PATH"      envDefault:"data/story.db"`
	CampaignDir string `env:"STORY_CAMPAIGN_DIR" envDefault:"campaigns"`
	AdminKey    string `env:"STORY_ADMIN_KEY"`
	LogLevel    string `env:"STORY_LOG_LEVEL"    envDefault:"info"`

	AnthropicKey  string        `env:"ANTHROPIC_API_KEY"`
	LLMModel      string        `env:"STORY_LLM_MODEL"`
	LLMPerMinute  int           `env:"STORY_LLM_PER_MINUTE"   envDefault:"20"`
	LLMTimeout    time.Duration `env:"STORY_LLM_TIMEOUT"      envDefault:"30s"`
	NarrateLimit  int           `env:"STORY_NARRATE_PER_HOUR" envDefault:"120"`
	ShutdownGrace time.Duration `env:"STORY_SHUTDOWN_GRACE"   envDefault:"10s"`

	CacheSize    int           `env:"STORY_CACHE_SIZE"     envDefault:"4096"`
	StoryTTL     time.Duration `env:"STORY_STATE_TTL"      envDefault:"24h"`
	NPCMemoryTTL time.Duration `env:"STORY_NPC_MEMORY_TTL" envDefault:"24h"`
	AIContextTTL time.Duration `env:"STORY_AI_CONTEXT_TTL" envDefault:"5m"`
	LockTTL      time.Duration `env:"STORY_LOCK_TTL"       envDefault:"30s"`
	CampaignCap  int           `env:"STORY_CAMPAIGN_CACHE" envDefault:"32"`

	RevealThreshold      float64 `env:"STORY_REVEAL_THRESHOLD"       envDefault:"0.7"`
	UnsatisfiedPenalty   float64 `env:"STORY_UNSATISFIED_PENALTY"    envDefault:"0.1"`
	DefaultKarma         int     `env:"STORY_DEFAULT_KARMA"          envDefault:"50"`
	DefaultRelationship  int     `env:"STORY_DEFAULT_RELATIONSHIP"   envDefault:"50"`
	BetrayalThreshold    int     `env:"STORY_BETRAYAL_THRESHOLD"     envDefault:"30"`
	RedemptionThreshold  int     `env:"STORY_REDEMPTION_THRESHOLD"   envDefault:"80"`
	PendingDecisionTurns int     `env:"STORY_PENDING_DECISION_TURNS" envDefault:"3"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.RevealThreshold <= 0 || cfg.RevealThreshold > 1 {
		return Config{}, fmt.Errorf("STORY_REVEAL_THRESHOLD must be in (0, 1], got %v", cfg.RevealThreshold)
	}
	if cfg.UnsatisfiedPenalty < 0 || cfg.UnsatisfiedPenalty > 1 {
		return Config{}, fmt.Errorf("STORY_UNSATISFIED_PENALTY must be in [0, 1], got %v", cfg.UnsatisfiedPenalty)
	}
	return cfg, nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Cache returns the per-room cache settings.
func (c Config) Cache() cache.Config {
	return cache.Config{
		Size:         c.CacheSize,
		StoryTTL:     c.StoryTTL,
		NPCMemoryTTL: c.NPCMemoryTTL,
		AIContextTTL: c.AIContextTTL,
		LockTTL:      c.LockTTL,
	}
}

// Graph returns the story graph query options.
func (c Config) Graph() storygraph.Options {
	return storygraph.Options{UnsatisfiedPenalty: c.UnsatisfiedPenalty}
}

// Director returns the turn orchestration options.
func (c Config) Director() engine.Options {
	return engine.Options{
		DefaultKarma:         c.DefaultKarma,
		DefaultRelationship:  c.DefaultRelationship,
		PendingDecisionTurns: c.PendingDecisionTurns,
		Twist:                twist.Options{RevealThreshold: c.RevealThreshold},
		Thresholds: npc.Thresholds{
			Betrayal:   c.BetrayalThreshold,
			Redemption: c.RedemptionThreshold,
		},
	}
}
