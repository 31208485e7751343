// Command resumectl runs the pipeline against local files.
//
//	resumectl [-env .env] parse <file>      print the parsed resume
//	resumectl [-env .env] questions <file>  parse, generate questions on Bedrock, print the record
package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/handoff"
	"resume-pipeline/internal/logging"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/questions"
	"resume-pipeline/internal/resume"
	"resume-pipeline/internal/storage"
)

// files serves object downloads from the local filesystem; the key is the path.
type files struct{}

func (files) Download(ctx context.Context, ref storage.ObjectRef, maxBytes int64) ([]byte, error) {
	b, err := os.ReadFile(ref.Key)
	if os.IsNotExist(err) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, storage.ErrObjectTooLarge
	}
	return b, nil
}

func main() {
	config.LoadEnvFile()
	if flag.NArg() != 2 {
		log.Fatalln("usage: resumectl [-env file] parse|questions <file>")
	}
	cmd, path := flag.Arg(0), flag.Arg(1)

	var err error
	switch cmd {
	case "parse":
		err = parse(path)
	case "questions":
		err = generate(context.Background(), path)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalln(err)
	}
}

func parse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text, err := resume.ExtractText(filepath.Base(path), data)
	if err != nil {
		return err
	}
	return printJSON(resume.Parse(text))
}

func generate(ctx context.Context, path string) error {
	gcfg, err := config.Load[config.Generator]()
	if err != nil {
		return err
	}
	logger := logging.Setup(gcfg.Logging)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	modelID, err := questions.ResolveModelID(ctx, ssm.NewFromConfig(awsCfg), gcfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := md5.Sum(data)
	obj := storage.ObjectRef{Bucket: "local", Key: path, ETag: hex.EncodeToString(sum[:]), Size: int64(len(data))}

	store := pipeline.NewMemoryStore()
	model := questions.NewModel(questions.NewBedrockClient(awsCfg, gcfg), modelID, gcfg)
	generator := questions.NewWorker(questions.NewGenerator(model, gcfg, logger), store, modelID, logger)

	pcfg := config.Parser{MaxObjectBytes: 10 << 20, ClaimLease: time.Minute, Concurrency: 1, Generator: gcfg}
	w := parser.New(pcfg, store, files{}, handoff.Func(generator.Parsed), nil, logger)
	if err := w.ObjectCreated(ctx, obj); err != nil {
		return err
	}

	rec, err := store.Get(ctx, pipeline.DocumentID(obj))
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
