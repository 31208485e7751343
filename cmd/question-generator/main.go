package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logging"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/questions"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.Generator]()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StateTable == "" {
		log.Fatalf("missing env STATE_TABLE")
	}
	logger := logging.Setup(cfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	modelID, err := questions.ResolveModelID(ctx, ssm.NewFromConfig(awsCfg), cfg)
	if err != nil {
		log.Fatalf("resolve model id: %v", err)
	}
	model := questions.NewModel(questions.NewBedrockClient(awsCfg, cfg), modelID, cfg)
	store := pipeline.NewDynamoStoreFromConfig(awsCfg, cfg.StateTable)

	w := questions.NewWorker(questions.NewGenerator(model, cfg, logger), store, modelID, logger)
	lambda.Start(w.HandleInvoke)
}
