package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/handoff"
	"resume-pipeline/internal/logging"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/questions"
	"resume-pipeline/internal/security"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/trigger"
)

func main() {
	config.LoadEnvFile()
	ctx := context.Background()

	cfg, err := config.Load[config.Parser]()
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
	objects := storage.NewFromConfig(awsCfg)

	var sealer parser.Sealer
	s, err := security.LoadSealer(ctx, params, cfg.ContactKeyB64, cfg.ContactKeyParam)
	if err != nil {
		log.Fatalf("load contact key: %v", err)
	}
	if s != nil {
		sealer = s
	}

	h, err := newHandoff(ctx, cfg, awsCfg, params, store, logger)
	if err != nil {
		log.Fatalf("hand-off: %v", err)
	}

	router := trigger.NewRouter(cfg.Concurrency, logger)
	router.OnCreated(cfg.UploadPrefix, parser.New(cfg, store, objects, h, sealer, logger))

	if config.InLambda() {
		lambda.Start(router.Dispatch)
		return
	}

	// local replay: parser [-env .env] s3://bucket/prefix
	if flag.NArg() < 1 {
		log.Fatalln("s3 url is required as an argument")
	}
	bucket, prefix, err := storage.ParseS3URL(flag.Arg(0))
	if err != nil {
		log.Fatalln(err)
	}
	objs, err := objects.List(ctx, bucket, prefix)
	if err != nil {
		log.Fatalln(err)
	}
	logger.Info("replaying objects", "bucket", bucket, "prefix", prefix, "count", len(objs))
	if err := router.Route(ctx, objs); err != nil {
		log.Fatalln(err)
	}
}

// newHandoff publishes to SNS when a topic is configured and otherwise runs
// the question generator in-process.
func newHandoff(ctx context.Context, cfg config.Parser, awsCfg aws.Config, params *ssm.Client, store pipeline.Store, logger *slog.Logger) (handoff.Handoff, error) {
	if cfg.ParsedTopicArn != "" {
		return handoff.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.ParsedTopicArn, logger), nil
	}

	modelID, err := questions.ResolveModelID(ctx, params, cfg.Generator)
	if err != nil {
		return nil, err
	}
	model := questions.NewModel(questions.NewBedrockClient(awsCfg, cfg.Generator), modelID, cfg.Generator)
	worker := questions.NewWorker(questions.NewGenerator(model, cfg.Generator, logger), store, modelID, logger)
	logger.Info("generating questions in-process", "model_id", modelID)
	return handoff.Func(worker.Parsed), nil
}
