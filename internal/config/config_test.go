package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPresign(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "resumes-bucket")

		cfg, err := Load[Presign]()
		require.NoError(t, err)
		assert.Equal(t, "resumes-bucket", cfg.BucketName)
		assert.Equal(t, "uploads/", cfg.UploadPrefix)
		assert.Equal(t, time.Hour, cfg.Expiry)
		assert.Equal(t, []string{".pdf", ".txt"}, cfg.AllowedExtensions)
		assert.Equal(t, "info", cfg.Level)
	})

	t.Run("Normalizes prefix and extensions", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "resumes-bucket")
		t.Setenv("UPLOAD_PREFIX", "/incoming")
		t.Setenv("ALLOWED_EXTENSIONS", "PDF, .Txt,,")

		cfg, err := Load[Presign]()
		require.NoError(t, err)
		assert.Equal(t, "incoming/", cfg.UploadPrefix)
		assert.Equal(t, []string{".pdf", ".txt"}, cfg.AllowedExtensions)
	})

	t.Run("Missing bucket", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "")
		_, err := Load[Presign]()
		assert.ErrorContains(t, err, "BUCKET_NAME")
	})

	t.Run("Expiry out of range", func(t *testing.T) {
		t.Setenv("BUCKET_NAME", "resumes-bucket")
		t.Setenv("PRESIGN_EXPIRY", "200h")
		_, err := Load[Presign]()
		assert.ErrorContains(t, err, "PRESIGN_EXPIRY")
	})
}

func TestLoadParser(t *testing.T) {
	t.Setenv("STATE_TABLE", "resume-state")
	t.Setenv("PARSER_CONCURRENCY", "0")
	t.Setenv("QUESTIONS_PER_SKILL", "5")

	cfg, err := Load[Parser]()
	require.NoError(t, err)
	assert.Equal(t, "uploads/", cfg.UploadPrefix)
	assert.Equal(t, int64(10<<20), cfg.MaxObjectBytes)
	assert.Equal(t, 15*time.Minute, cfg.ClaimLease)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Empty(t, cfg.ParsedTopicArn)

	assert.Equal(t, "resume-state", cfg.Generator.StateTable)
	assert.Equal(t, "meta.llama3-8b-instruct-v1:0", cfg.Generator.ModelID)
	assert.Equal(t, 5, cfg.Generator.QuestionsPerSkill)
	assert.Equal(t, 20*time.Second, cfg.Generator.MaxBackoff)
}

func TestLoadGenerator(t *testing.T) {
	t.Run("Model id required", func(t *testing.T) {
		var cfg Generator
		assert.ErrorContains(t, cfg.Validate(), "BEDROCK_MODEL_ID")
	})

	t.Run("Zero values fall back", func(t *testing.T) {
		cfg := Generator{ModelID: "meta.llama3-8b-instruct-v1:0"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 3, cfg.QuestionsPerSkill)
		assert.Equal(t, 10, cfg.MaxSkills)
		assert.Equal(t, 1, cfg.MaxAttempts)
		assert.Equal(t, 1, cfg.Concurrency)
	})

	t.Run("Parameter override", func(t *testing.T) {
		t.Setenv("BEDROCK_MODEL_ID_PARAM", "/resume-pipeline/model-id")
		cfg, err := Load[Generator]()
		require.NoError(t, err)
		assert.Equal(t, "/resume-pipeline/model-id", cfg.ModelIDParam)
	})
}

func TestLoadResumesAPI(t *testing.T) {
	_, err := Load[ResumesAPI]()
	assert.ErrorContains(t, err, "STATE_TABLE")

	t.Setenv("STATE_TABLE", "resume-state")
	t.Setenv("BUCKET_NAME", "resumes-bucket")
	cfg, err := Load[ResumesAPI]()
	require.NoError(t, err)
	assert.Equal(t, "resumes-bucket", cfg.BucketName)
	assert.Equal(t, "GSI_ObjectKey", cfg.ObjectKeyIndex)
	assert.Equal(t, 3, cfg.QuestionsPerSkill)
}

func TestLoadExport(t *testing.T) {
	t.Setenv("STATE_TABLE", "resume-state")
	t.Setenv("ANALYTICS_BUCKET", "analytics-bucket")
	t.Setenv("EXPORT_DAYS_BACK", "400")

	cfg, err := Load[Export]()
	require.NoError(t, err)
	assert.Equal(t, "parsed_resumes/", cfg.Prefix)
	assert.Equal(t, 1, cfg.DaysBack)

	t.Setenv("GLUE_DATABASE", "resumes")
	_, err = Load[Export]()
	assert.ErrorContains(t, err, "GLUE_TABLE")
}

func TestLoadRepair(t *testing.T) {
	t.Setenv("ATHENA_DATABASE", "resumes")
	t.Setenv("ATHENA_TABLE", "parsed_resumes")
	t.Setenv("ATHENA_OUTPUT", "athena-results/")

	_, err := Load[Repair]()
	assert.ErrorContains(t, err, "s3://")

	t.Setenv("ATHENA_OUTPUT", "s3://athena-results/")
	cfg, err := Load[Repair]()
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Workgroup)
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "uploads/", normalizePrefix(" /uploads "))
	assert.Equal(t, "a/b/", normalizePrefix("a/b/"))
	assert.Equal(t, "", normalizePrefix(""))
}
