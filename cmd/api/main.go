package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/wolfman30/voice-orchestrator/cmd/mainconfig"
	"github.com/wolfman30/voice-orchestrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/voice-orchestrator/internal/config"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice orchestrator API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"record_log", cfg.RecordLogBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	dynamo, err := dynamoFor(ctx, cfg)
	if err != nil {
		return err
	}

	app, err := bootstrap.NewApp(cfg, bootstrap.Deps{
		Pool:   pool,
		Redis:  redisClient,
		Dynamo: dynamo,
	}, logger)
	if err != nil {
		return err
	}
	if err := app.Rebuild(ctx); err != nil {
		return err
	}
	return app.Run(ctx)
}

// dynamoFor only builds an AWS client when call records live in DynamoDB.
func dynamoFor(ctx context.Context, cfg *appconfig.Config) (*dynamodb.Client, error) {
	if cfg.RecordLogBackend != bootstrap.RecordLogDynamoDB {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return mainconfig.NewDynamoClient(awsCfg, cfg), nil
}
