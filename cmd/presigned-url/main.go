package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logging"
	"resume-pipeline/internal/presign"
	"resume-pipeline/internal/storage"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.Presign]()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	issuer := presign.NewIssuer(cfg, storage.NewFromConfig(awsCfg), logger)
	lambda.Start(issuer.Handle)
}
