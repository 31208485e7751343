package parser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/handoff"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/resume"
	"resume-pipeline/internal/storage"
)

const resumeText = `Jane Doe
jane.doe@example.com
SKILLS
Go, SQL, Docker
EXPERIENCE
Backend Engineer at Acme Corp
`

// memObjects is an in-memory bucket.
type memObjects struct {
	mu        sync.Mutex
	data      map[string][]byte
	failures  int // transient failures before downloads succeed
	downloads int
}

func newMemObjects() *memObjects {
	return &memObjects{data: map[string][]byte{}}
}

func (m *memObjects) put(key string, b []byte) storage.ObjectRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return storage.ObjectRef{Bucket: "resumes-bucket", Key: key, ETag: "etag-" + key, Size: int64(len(b))}
}

func (m *memObjects) Download(ctx context.Context, ref storage.ObjectRef, maxBytes int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("SlowDown: please reduce your request rate")
	}
	b, ok := m.data[ref.Key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	if maxBytes > 0 && int64(len(b)) > maxBytes {
		return nil, storage.ErrObjectTooLarge
	}
	return b, nil
}

// recorder is a Handoff that remembers the events it was given.
type recorder struct {
	mu   sync.Mutex
	evs  []pipeline.ParsedEvent
	fail error
}

func (r *recorder) Parsed(ctx context.Context, ev pipeline.ParsedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.evs = append(r.evs, ev)
	return nil
}

type fixedSealer struct{}

func (fixedSealer) Seal(v any) (string, error) { return "sealed", nil }

func testParserConfig() config.Parser {
	return config.Parser{
		StateTable:     "resume-state",
		UploadPrefix:   "uploads/",
		MaxObjectBytes: 1 << 20,
		ClaimLease:     15 * time.Minute,
		Concurrency:    2,
	}
}

func setup(sealer Sealer) (*Worker, *pipeline.MemoryStore, *memObjects, *recorder) {
	store := pipeline.NewMemoryStore()
	objects := newMemObjects()
	rec := &recorder{}
	return New(testParserConfig(), store, objects, rec, sealer, nil), store, objects, rec
}

func stage(t *testing.T, store pipeline.Store, obj storage.ObjectRef) *pipeline.Record {
	t.Helper()
	rec, err := store.Get(context.Background(), pipeline.DocumentID(obj))
	require.NoError(t, err)
	return rec
}

func TestObjectCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("Parses and hands off", func(t *testing.T) {
		w, store, objects, h := setup(nil)
		obj := objects.put("uploads/jane.txt", []byte(resumeText))

		require.NoError(t, w.ObjectCreated(ctx, obj))

		rec := stage(t, store, obj)
		assert.Equal(t, pipeline.StageParsed, rec.Stage)
		assert.True(t, rec.HandedOff)
		assert.Equal(t, "Jane Doe", rec.Parsed.Name)
		assert.Equal(t, []string{"jane.doe@example.com"}, rec.Parsed.Contact.Emails)
		require.Len(t, h.evs, 1)
		assert.Equal(t, pipeline.ParsedEvent{
			DocumentID: pipeline.DocumentID(obj),
			Bucket:     "resumes-bucket",
			Key:        "uploads/jane.txt",
			Skills:     []string{"Go", "SQL", "Docker"},
		}, h.evs[0])
	})

	t.Run("Duplicate notifications are processed once", func(t *testing.T) {
		w, store, objects, h := setup(nil)
		obj := objects.put("uploads/jane.txt", []byte(resumeText))

		require.NoError(t, w.ObjectCreated(ctx, obj))
		first := stage(t, store, obj)
		require.NoError(t, w.ObjectCreated(ctx, obj))
		second := stage(t, store, obj)

		assert.Equal(t, 1, objects.downloads)
		assert.Len(t, h.evs, 1)
		assert.Equal(t, first.Parsed, second.Parsed)
		assert.Equal(t, 1, second.Attempts)
	})

	t.Run("Concurrent duplicates are processed once", func(t *testing.T) {
		w, _, objects, h := setup(nil)
		obj := objects.put("uploads/jane.txt", []byte(resumeText))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, w.ObjectCreated(ctx, obj))
			}()
		}
		wg.Wait()

		// one parse; a racing delivery may repeat the hand-off, which the generator absorbs
		assert.Equal(t, 1, objects.downloads)
		require.NotEmpty(t, h.evs)
		for _, ev := range h.evs {
			assert.Equal(t, pipeline.DocumentID(obj), ev.DocumentID)
		}
	})

	t.Run("Transient failure releases the claim for redelivery", func(t *testing.T) {
		w, store, objects, h := setup(nil)
		obj := objects.put("uploads/jane.txt", []byte(resumeText))
		objects.failures = 1

		err := w.ObjectCreated(ctx, obj)
		require.Error(t, err)
		assert.False(t, pipeline.IsPermanent(err))
		assert.Equal(t, pipeline.StageUploaded, stage(t, store, obj).Stage)
		assert.Empty(t, h.evs)

		require.NoError(t, w.ObjectCreated(ctx, obj))
		rec := stage(t, store, obj)
		assert.Equal(t, pipeline.StageParsed, rec.Stage)
		assert.Equal(t, 2, rec.Attempts)
		assert.Len(t, h.evs, 1)
	})

	t.Run("Failed hand-off is retried without reparsing", func(t *testing.T) {
		w, store, objects, h := setup(nil)
		obj := objects.put("uploads/jane.txt", []byte(resumeText))
		h.fail = errors.New("sns unavailable")

		require.Error(t, w.ObjectCreated(ctx, obj))
		rec := stage(t, store, obj)
		assert.Equal(t, pipeline.StageParsed, rec.Stage)
		assert.False(t, rec.HandedOff)

		h.fail = nil
		require.NoError(t, w.ObjectCreated(ctx, obj))
		assert.True(t, stage(t, store, obj).HandedOff)
		assert.Equal(t, 1, objects.downloads)
		assert.Len(t, h.evs, 1)
	})

	t.Run("Contact details are sealed", func(t *testing.T) {
		w, store, objects, _ := setup(fixedSealer{})
		obj := objects.put("uploads/jane.txt", []byte(resumeText))

		require.NoError(t, w.ObjectCreated(ctx, obj))
		rec := stage(t, store, obj)
		assert.Equal(t, "sealed", rec.ContactEnc)
		assert.True(t, rec.Parsed.Contact.Empty())
	})
}

func TestObjectCreatedPermanentFailures(t *testing.T) {
	ctx := context.Background()

	cases := map[string]struct {
		key    string
		body   []byte
		size   int64
		reason error
	}{
		"Empty file":           {key: "uploads/empty.pdf", body: []byte{}, reason: resume.ErrEmptyDocument},
		"Not a PDF":            {key: "uploads/broken.pdf", body: []byte("<html>oops</html>"), reason: resume.ErrUnreadableDocument},
		"Unsupported type":     {key: "uploads/cv.docx", body: []byte("PK\x03\x04"), reason: resume.ErrUnsupportedType},
		"Nothing extracted":    {key: "uploads/notes.txt", body: []byte("lorem ipsum dolor sit amet"), reason: ErrNothingExtracted},
		"Too large":            {key: "uploads/huge.txt", body: []byte(resumeText), size: 2 << 20, reason: storage.ErrObjectTooLarge},
		"Deleted before parse": {key: "uploads/gone.txt", reason: storage.ErrObjectNotFound},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w, store, objects, h := setup(nil)
			obj := storage.ObjectRef{Bucket: "resumes-bucket", Key: tc.key, ETag: "e"}
			if tc.body != nil {
				obj = objects.put(tc.key, tc.body)
			}
			if tc.size > 0 {
				obj.Size = tc.size
			}

			require.NoError(t, w.ObjectCreated(ctx, obj), "permanent failures must not trigger redelivery")

			rec := stage(t, store, obj)
			assert.Equal(t, pipeline.StageFailed, rec.Stage)
			assert.Equal(t, pipeline.StageUploaded, rec.FailedStage)
			assert.Contains(t, rec.FailureReason, tc.reason.Error())
			assert.Empty(t, h.evs)

			// a redelivery leaves the terminal state alone
			require.NoError(t, w.ObjectCreated(ctx, obj))
			assert.Equal(t, pipeline.StageFailed, stage(t, store, obj).Stage)
		})
	}
}

func TestDirectHandoff(t *testing.T) {
	var got []string
	h := handoff.Func(func(ctx context.Context, ev pipeline.ParsedEvent) error {
		got = ev.Skills
		return nil
	})
	objects := newMemObjects()
	obj := objects.put("uploads/jane.txt", []byte(resumeText))

	w := New(testParserConfig(), pipeline.NewMemoryStore(), objects, h, nil, nil)
	require.NoError(t, w.ObjectCreated(context.Background(), obj))
	assert.Equal(t, []string{"Go", "SQL", "Docker"}, got)
}
