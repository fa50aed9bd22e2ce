package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"narrative-server/internal/config"
	"narrative-server/internal/database"
	"narrative-server/internal/generation"
	"narrative-server/internal/interfaces"
	"narrative-server/internal/messaging"
	"narrative-server/internal/models"
	"narrative-server/internal/orchestrator"
	"narrative-server/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// scenarioFile is the on-disk definition of one run.
type scenarioFile struct {
	Story   models.StoryState `json:"story"`
	Actors  []models.Actor    `json:"actors"`
	Opening struct {
		Location      string   `json:"location"`
		TimePeriod    string   `json:"time_period"`
		Mood          string   `json:"mood"`
		PresentActors []string `json:"present_actors"`
		Objectives    []string `json:"objectives"`
		TensionTarget float64  `json:"tension_target"`
	} `json:"opening_scene"`
}

func main() {
	scenarioPath := flag.String("scenario", "scenario.json", "path to the scenario definition")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *scenarioPath); err != nil {
		log.Fatal("Run failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, scenarioPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scenario, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	gen, err := generation.NewClient(generation.Config{
		APIKey:      cfg.AIAPIKey,
		BaseURL:     cfg.AIBaseURL,
		Model:       cfg.AIModel,
		MaxRetries:  cfg.AIMaxRetries,
		TokenBudget: cfg.AITokenBudget,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}

	checkpoints, err := buildCheckpointStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	var archive interfaces.RunArchiveRepository
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = database.NewPostgresRunArchive(pool, log)
	}

	var publisher interfaces.RunUpdatePublisher
	if cfg.RabbitMQURL != "" {
		conn, err := amqp091.Dial(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		publisher, err = messaging.NewRabbitMQRunUpdatePublisher(conn, cfg.RunUpdatesExchange, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	engine, err := orchestrator.NewEngine(scenario.Story, scenario.Actors, orchestrator.Options{
		Logger:      log,
		Config:      cfg,
		Generator:   gen,
		Consistency: gen,
		Coherence:   gen,
		Assembler:   gen,
		Checkpoints: checkpoints,
		Archive:     archive,
		Publisher:   publisher,
	})
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, orchestrator.SceneSpec{
		Location:      scenario.Opening.Location,
		TimePeriod:    scenario.Opening.TimePeriod,
		Mood:          scenario.Opening.Mood,
		PresentActors: scenario.Opening.PresentActors,
		Objectives:    scenario.Opening.Objectives,
		TensionTarget: scenario.Opening.TensionTarget,
	})
	if err != nil {
		return err
	}

	log.Info("Simulation finished",
		zap.String("runID", result.RunID),
		zap.String("status", result.Status),
		zap.String("reason", result.Reason),
		zap.Int("turns", result.Turns),
		zap.Int("interventions", result.Interventions))
	fmt.Println(result.Narrative)
	return nil
}

func loadScenario(path string) (*scenarioFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	var scenario scenarioFile
	if err := json.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if len(scenario.Actors) == 0 {
		return nil, fmt.Errorf("scenario %s defines no actors", path)
	}
	return &scenario, nil
}

func buildCheckpointStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (interfaces.CheckpointStore, error) {
	if cfg.RedisAddr == "" {
		log.Info("No redis address configured, using in-memory checkpoints")
		return database.NewMemoryCheckpointStore(), nil
	}
	client, err := database.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	return database.NewRedisCheckpointStore(client, cfg.CheckpointTTL, log), nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Metrics server stopped", zap.Error(err))
	}
}
