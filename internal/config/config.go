package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Logging is embedded by every binary's config.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT"` // json | text; empty picks json inside Lambda
}

type Presign struct {
	Logging
	BucketName        string        `env:"BUCKET_NAME,notEmpty,required"`
	UploadPrefix      string        `env:"UPLOAD_PREFIX" envDefault:"uploads/"`
	Expiry            time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	AllowedExtensions []string      `env:"ALLOWED_EXTENSIONS" envDefault:".pdf,.txt" envSeparator:","`
}

type Parser struct {
	Logging
	StateTable      string        `env:"STATE_TABLE,notEmpty,required"`
	UploadPrefix    string        `env:"UPLOAD_PREFIX" envDefault:"uploads/"`
	ParsedTopicArn  string        `env:"PARSED_TOPIC_ARN"` // empty: generate questions in-process
	MaxObjectBytes  int64         `env:"MAX_OBJECT_BYTES" envDefault:"10485760"`
	ClaimLease      time.Duration `env:"CLAIM_LEASE" envDefault:"15m"`
	Concurrency     int           `env:"PARSER_CONCURRENCY" envDefault:"4"`
	ContactKeyB64   string        `env:"CONTACT_ENC_KEY_B64"`
	ContactKeyParam string        `env:"CONTACT_ENC_KEY_PARAM"`
	Generator       Generator
}

type Generator struct {
	Logging
	StateTable        string        `env:"STATE_TABLE"`
	ModelID           string        `env:"BEDROCK_MODEL_ID" envDefault:"meta.llama3-8b-instruct-v1:0"`
	ModelIDParam      string        `env:"BEDROCK_MODEL_ID_PARAM"`
	Region            string        `env:"BEDROCK_REGION"`
	QuestionsPerSkill int           `env:"QUESTIONS_PER_SKILL" envDefault:"3"`
	MaxSkills         int           `env:"MAX_SKILLS" envDefault:"10"`
	MaxGenLen         int           `env:"BEDROCK_MAX_GEN_LEN" envDefault:"512"`
	Temperature       float64       `env:"BEDROCK_TEMPERATURE" envDefault:"0.5"`
	MaxAttempts       int           `env:"BEDROCK_MAX_ATTEMPTS" envDefault:"5"`
	MaxBackoff        time.Duration `env:"BEDROCK_MAX_BACKOFF" envDefault:"20s"`
	Concurrency       int           `env:"GENERATOR_CONCURRENCY" envDefault:"3"`
}

type ResumesAPI struct {
	Generator
	BucketName      string `env:"BUCKET_NAME"` // default bucket for GET /resumes?key=
	ObjectKeyIndex  string `env:"STATE_OBJECT_KEY_INDEX" envDefault:"GSI_ObjectKey"`
	ContactKeyB64   string `env:"CONTACT_ENC_KEY_B64"`
	ContactKeyParam string `env:"CONTACT_ENC_KEY_PARAM"`
}

type Export struct {
	Logging
	StateTable      string `env:"STATE_TABLE,notEmpty,required"`
	AnalyticsBucket string `env:"ANALYTICS_BUCKET,notEmpty,required"`
	Prefix          string `env:"PARSED_EXPORT_PREFIX" envDefault:"parsed_resumes/"`
	DaysBack        int    `env:"EXPORT_DAYS_BACK" envDefault:"1"`
	GlueDatabase    string `env:"GLUE_DATABASE"`
	GlueTable       string `env:"GLUE_TABLE"`
}

type Repair struct {
	Logging
	Database  string `env:"ATHENA_DATABASE,notEmpty,required"`
	Table     string `env:"ATHENA_TABLE,notEmpty,required"`
	Workgroup string `env:"ATHENA_WORKGROUP" envDefault:"primary"`
	Output    string `env:"ATHENA_OUTPUT,notEmpty,required"` // s3://bucket/prefix/
}

// Load parses the environment into cfg and validates it when cfg has a Validate method.
func Load[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if v, ok := any(&cfg).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// LoadEnvFile loads a .env file passed with -env. Lambda binaries never pass it.
func LoadEnvFile() {
	var path string
	flag.StringVar(&path, "env", "", "path to load env from")
	flag.Parse()

	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Fatalf("load env file %q: %v", path, err)
	}
}

// InLambda reports whether the process runs under the Lambda runtime API.
func InLambda() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""
}

func (c *Presign) Validate() error {
	c.UploadPrefix = normalizePrefix(c.UploadPrefix)
	if c.Expiry <= 0 || c.Expiry > 7*24*time.Hour {
		return fmt.Errorf("PRESIGN_EXPIRY must be within (0, 168h], got %s", c.Expiry)
	}
	exts := make([]string, 0, len(c.AllowedExtensions))
	for _, e := range c.AllowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	c.AllowedExtensions = exts
	return nil
}

func (c *Parser) Validate() error {
	c.UploadPrefix = normalizePrefix(c.UploadPrefix)
	if c.MaxObjectBytes <= 0 {
		return fmt.Errorf("MAX_OBJECT_BYTES must be positive")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = 15 * time.Minute
	}
	c.Generator.StateTable = c.StateTable
	return c.Generator.Validate()
}

func (c *Generator) Validate() error {
	if strings.TrimSpace(c.ModelID) == "" && strings.TrimSpace(c.ModelIDParam) == "" {
		return fmt.Errorf("missing env BEDROCK_MODEL_ID")
	}
	if c.QuestionsPerSkill <= 0 {
		c.QuestionsPerSkill = 3
	}
	if c.MaxSkills <= 0 {
		c.MaxSkills = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return nil
}

func (c *ResumesAPI) Validate() error {
	if strings.TrimSpace(c.StateTable) == "" {
		return fmt.Errorf("missing env STATE_TABLE")
	}
	return c.Generator.Validate()
}

func (c *Export) Validate() error {
	c.Prefix = normalizePrefix(c.Prefix)
	if c.DaysBack <= 0 || c.DaysBack > 90 {
		c.DaysBack = 1
	}
	if (c.GlueDatabase == "") != (c.GlueTable == "") {
		return fmt.Errorf("GLUE_DATABASE and GLUE_TABLE must be set together")
	}
	return nil
}

func (c *Repair) Validate() error {
	if !strings.HasPrefix(c.Output, "s3://") {
		return fmt.Errorf("ATHENA_OUTPUT must start with s3://")
	}
	return nil
}

func normalizePrefix(p string) string {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
