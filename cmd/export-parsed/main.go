package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"

	"resume-pipeline/internal/analytics"
	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logging"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/storage"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.Export]()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	var catalog analytics.GlueAPI
	if cfg.GlueDatabase != "" {
		catalog = glue.NewFromConfig(awsCfg)
	}
	exporter := analytics.NewExporter(cfg,
		pipeline.NewDynamoStoreFromConfig(awsCfg, cfg.StateTable),
		storage.NewFromConfig(awsCfg),
		catalog,
		logger,
	)

	if config.InLambda() {
		// EventBridge schedule
		lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) (analytics.Summary, error) {
			return exporter.Run(ctx)
		})
		return
	}

	sum, err := exporter.Run(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	_ = json.NewEncoder(os.Stdout).Encode(sum)
}
