package resumes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"resume-pipeline/internal/httpapi"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/resume"
	"resume-pipeline/internal/storage"
)

// Opener decrypts sealed contact details.
type Opener interface {
	Open(sealed string, v any) error
}

// API serves the pipeline's read side and the synchronous question endpoint.
type API struct {
	store     pipeline.Store
	questions func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)
	opener    Opener
	bucket    string
	log       *slog.Logger
}

// NewAPI returns the resumes API. questions handles POST /questions; opener
// may be nil when contact details are stored in the clear.
func NewAPI(store pipeline.Store, questions func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error), opener Opener, bucket string, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{store: store, questions: questions, opener: opener, bucket: bucket, log: log}
}

func (a *API) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	path := strings.TrimRight(req.RawPath, "/")
	switch {
	case strings.HasSuffix(path, "/questions"):
		return a.questions(ctx, req)
	case strings.HasSuffix(path, "/resumes"):
		if httpapi.Method(req) != http.MethodGet {
			return httpapi.Error(http.StatusMethodNotAllowed, "method not allowed", nil)
		}
		return a.getResume(ctx, req)
	default:
		return httpapi.Error(http.StatusNotFound, "not found", nil)
	}
}

// getResume serves GET /resumes?key=<object key>[&etag=][&bucket=]. Without
// an etag the most recently updated version of the key is returned.
func (a *API) getResume(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	key := httpapi.Query(req, "key", "object_name")
	if key == "" {
		return httpapi.Error(http.StatusBadRequest, "missing key", nil)
	}
	bucket := httpapi.Query(req, "bucket")
	if bucket == "" {
		bucket = a.bucket
	}
	if bucket == "" {
		return httpapi.Error(http.StatusBadRequest, "missing bucket", nil)
	}

	obj := storage.ObjectRef{Bucket: bucket, Key: key, ETag: httpapi.Query(req, "etag")}
	rec, err := a.lookup(ctx, obj)
	if errors.Is(err, pipeline.ErrNotFound) {
		return httpapi.Error(http.StatusNotFound, "resume not found", nil)
	}
	if err != nil {
		a.log.Error("lookup failed", "bucket", bucket, "key", key, "error", err)
		return httpapi.Error(http.StatusInternalServerError, "lookup_failed", err)
	}

	if rec.ContactEnc != "" && rec.Parsed != nil && a.opener != nil {
		var c resume.Contact
		if err := a.opener.Open(rec.ContactEnc, &c); err != nil {
			a.log.Warn("contact details could not be decrypted", "document_id", rec.ID, "error", err)
		} else {
			parsed := *rec.Parsed
			parsed.Contact = c
			rec.Parsed = &parsed
		}
	}
	return httpapi.OK(rec)
}

func (a *API) lookup(ctx context.Context, obj storage.ObjectRef) (*pipeline.Record, error) {
	if obj.ETag != "" {
		return a.store.Get(ctx, pipeline.DocumentID(obj))
	}
	return a.store.Latest(ctx, obj.Bucket, obj.Key)
}
