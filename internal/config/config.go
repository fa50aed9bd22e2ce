package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable of the orchestration engine. The intervention
// thresholds are deliberately configuration, not code: exact production
// values are a tuning concern.
type Config struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Prometheus scrape endpoint; empty disables it
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Run protocol
	TurnCeiling     int `envconfig:"TURN_CEILING" default:"100"`
	MonitorInterval int `envconfig:"MONITOR_INTERVAL_TURNS" default:"5"`

	// Termination condition
	ResolutionThreshold float64 `envconfig:"RESOLUTION_THRESHOLD" default:"0.8"`
	ResolutionTension   float64 `envconfig:"RESOLUTION_TENSION_CEILING" default:"0.3"`

	// Turn scheduling
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	RelevanceWindow   int           `envconfig:"RELEVANCE_WINDOW" default:"5"`

	// Progression
	TensionAdjustStep float64 `envconfig:"TENSION_ADJUST_STEP" default:"0.1"`

	// Memory
	RelationshipDecay float64 `envconfig:"RELATIONSHIP_DECAY" default:"0.05"`

	// Quality monitor thresholds. The progression floor sits below the
	// per-turn drift of a healthy run, so defaults describe a quiet story,
	// not a degraded one.
	CriticalFlagRate    float64 `envconfig:"CRITICAL_FLAG_RATE" default:"0.5"`
	MaxTurnFailureRate  float64 `envconfig:"MAX_TURN_FAILURE_RATE" default:"0.5"`
	LowTensionFloor     float64 `envconfig:"LOW_TENSION_FLOOR" default:"0.3"`
	MinProgressionRate  float64 `envconfig:"MIN_PROGRESSION_RATE" default:"0.005"`
	MinEngagementProxy  float64 `envconfig:"MIN_ENGAGEMENT_PROXY" default:"0.5"`
	BorderlineTolerance float64 `envconfig:"BORDERLINE_TOLERANCE" default:"0.1"`

	// Generation collaborator
	AIAPIKey       string `envconfig:"AI_API_KEY"`
	AIBaseURL      string `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel        string `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AIMaxRetries   int    `envconfig:"AI_MAX_RETRIES" default:"3"`
	AITokenBudget  int    `envconfig:"AI_TOKEN_BUDGET" default:"6000"`
	SnapshotEvents int    `envconfig:"SNAPSHOT_EVENTS" default:"10"`

	// Checkpoint store (redis); empty address selects the in-memory store
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CheckpointTTL time.Duration `envconfig:"CHECKPOINT_TTL" default:"24h"`

	// Run archive (postgres); empty DSN disables archiving
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Run update publisher (rabbitmq); empty URL disables publishing
	RabbitMQURL        string `envconfig:"RABBITMQ_URL"`
	RunUpdatesExchange string `envconfig:"RUN_UPDATES_EXCHANGE" default:"narrative_run_updates"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load orchestrator config: %w", err)
	}
	return &cfg, nil
}
