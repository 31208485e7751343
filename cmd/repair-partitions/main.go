package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"

	"resume-pipeline/internal/analytics"
	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logging"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.Repair]()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	repairer := analytics.NewRepairer(athena.NewFromConfig(awsCfg), cfg, logger)

	if config.InLambda() {
		lambda.Start(repairer.Repair)
		return
	}

	res, err := repairer.Repair(ctx)
	_ = json.NewEncoder(os.Stdout).Encode(res)
	if err != nil {
		log.Fatalln(err)
	}
}
