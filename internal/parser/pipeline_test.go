package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/handoff"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/presign"
	"resume-pipeline/internal/questions"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/trigger"
)

// cannedModel answers like the Llama 3 instruct model does.
type cannedModel struct {
	mu    sync.Mutex
	calls int
}

func (m *cannedModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return "Here are three challenging interview questions:\n\n1. Explain the trade-offs.\n2. Describe a failure you debugged.\n3. How would you test it?", nil
}

type harness struct {
	issuer  *presign.Issuer
	router  *trigger.Router
	store   *pipeline.MemoryStore
	objects *memObjects
	model   *cannedModel
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	client := s3.NewFromConfig(aws.Config{
		Region:      "ap-south-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	})
	issuer := presign.NewIssuer(config.Presign{
		BucketName:        "resumes-bucket",
		UploadPrefix:      "uploads/",
		Expiry:            time.Hour,
		AllowedExtensions: []string{".pdf", ".txt"},
	}, storage.New(client, s3.NewPresignClient(client)), nil)

	genCfg := config.Generator{QuestionsPerSkill: 3, MaxSkills: 10, Concurrency: 2}
	model := &cannedModel{}
	store := pipeline.NewMemoryStore()
	generator := questions.NewWorker(questions.NewGenerator(model, genCfg, nil), store, "meta.llama3-8b-instruct-v1:0", nil)

	objects := newMemObjects()
	worker := New(testParserConfig(), store, objects, handoff.Func(generator.Parsed), nil, nil)

	router := trigger.NewRouter(2, nil)
	router.OnCreated("uploads/", worker)

	return &harness{issuer: issuer, router: router, store: store, objects: objects, model: model}
}

// upload stands in for the client PUT and the notification S3 sends after it.
func (h *harness) upload(t *testing.T, key string, body []byte) storage.ObjectRef {
	t.Helper()
	obj := h.objects.put(key, body)
	require.NoError(t, h.router.Route(context.Background(), []storage.ObjectRef{obj}))
	return obj
}

func TestUploadToQuestions(t *testing.T) {
	h := newHarness(t)

	grant, err := h.issuer.Issue(context.Background(), "resume123.pdf")
	require.NoError(t, err)
	assert.Equal(t, "uploads/resume123.pdf", grant.Key)
	assert.Contains(t, grant.URL, "/uploads/resume123.pdf")

	pdf, err := os.ReadFile("testdata/resume123.pdf")
	require.NoError(t, err)
	obj := h.upload(t, grant.Key, pdf)

	rec, err := h.store.Get(context.Background(), pipeline.DocumentID(obj))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageQuestioned, rec.Stage)
	require.NotNil(t, rec.Parsed)
	assert.Equal(t, "Jane Doe", rec.Parsed.Name)
	assert.Contains(t, rec.Parsed.Skills, "Go")
	assert.Contains(t, rec.Parsed.Skills, "AWS Lambda")

	require.NotNil(t, rec.Questions)
	assert.Positive(t, rec.Questions.Count())
	for skill, qs := range rec.Questions.BySkill {
		assert.Len(t, qs, 3, skill)
	}
	assert.Equal(t, len(rec.Parsed.Skills), h.model.calls)
}

func TestUploadOfUnparseableFile(t *testing.T) {
	for name, body := range map[string][]byte{
		"uploads/empty.pdf":   {},
		"uploads/corrupt.pdf": []byte("%PDF-1.4\n" + strings.Repeat("\x00garbage", 32)),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			obj := h.upload(t, name, body)

			rec, err := h.store.Get(context.Background(), pipeline.DocumentID(obj))
			require.NoError(t, err)
			assert.Equal(t, pipeline.StageFailed, rec.Stage)
			assert.Nil(t, rec.Questions)
			assert.Equal(t, 0, h.model.calls, "generator must not run")
		})
	}
}

func TestUploadOutsidePrefix(t *testing.T) {
	h := newHarness(t)
	obj := h.upload(t, "archive/resume123.pdf", []byte("whatever"))

	_, err := h.store.Get(context.Background(), pipeline.DocumentID(obj))
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
	assert.Equal(t, 0, h.objects.downloads)
}

func TestRedeliveredUploadIsIdempotent(t *testing.T) {
	h := newHarness(t)
	obj := h.upload(t, "uploads/jane.txt", []byte(resumeText))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.router.Route(context.Background(), []storage.ObjectRef{obj}), fmt.Sprint("redelivery ", i))
	}

	rec, err := h.store.Get(context.Background(), pipeline.DocumentID(obj))
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageQuestioned, rec.Stage)
	assert.Equal(t, 1, h.objects.downloads)
	assert.Equal(t, 3, h.model.calls, "one prompt per skill, generated once")
}
