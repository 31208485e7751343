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
	"resume-pipeline/internal/resumes"
	"resume-pipeline/internal/security"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.ResumesAPI]()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	params := ssm.NewFromConfig(awsCfg)
	store := pipeline.NewDynamoStoreFromConfig(awsCfg, cfg.StateTable)
	store.SetObjectKeyIndex(cfg.ObjectKeyIndex)

	modelID, err := questions.ResolveModelID(ctx, params, cfg.Generator)
	if err != nil {
		log.Fatalf("resolve model id: %v", err)
	}
	model := questions.NewModel(questions.NewBedrockClient(awsCfg, cfg.Generator), modelID, cfg.Generator)
	generator := questions.NewWorker(questions.NewGenerator(model, cfg.Generator, logger), store, modelID, logger)

	var opener resumes.Opener
	sealer, err := security.LoadSealer(ctx, params, cfg.ContactKeyB64, cfg.ContactKeyParam)
	if err != nil {
		log.Fatalf("load contact key: %v", err)
	}
	if sealer != nil {
		opener = sealer
	}

	api := resumes.NewAPI(store, generator.HandleHTTP, opener, cfg.BucketName, logger)
	lambda.Start(api.Handle)
}
