package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	"resume-pipeline/internal/storage"
)

// Handler processes one created object. Returning an error fails the invocation,
// which lets the notification layer redeliver the event.
type Handler interface {
	ObjectCreated(ctx context.Context, obj storage.ObjectRef) error
}

type HandlerFunc func(ctx context.Context, obj storage.ObjectRef) error

func (f HandlerFunc) ObjectCreated(ctx context.Context, obj storage.ObjectRef) error {
	return f(ctx, obj)
}

type subscription struct {
	prefix  string
	handler Handler
}

// Router fans S3 object-created notifications out to the handlers subscribed to
// a matching key prefix.
type Router struct {
	subs        []subscription
	concurrency int
	log         *slog.Logger
}

func NewRouter(concurrency int, log *slog.Logger) *Router {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{concurrency: concurrency, log: log}
}

// OnCreated subscribes h to objects created under prefix. An empty prefix matches every key.
func (r *Router) OnCreated(prefix string, h Handler) {
	r.subs = append(r.subs, subscription{prefix: prefix, handler: h})
}

// Dispatch routes every ObjectCreated record in ev. Records outside every
// subscribed prefix, and non-creation records, are skipped. A key that cannot
// be decoded fails the invocation once the other records have been routed.
func (r *Router) Dispatch(ctx context.Context, ev events.S3Event) error {
	var errs []error
	objs := make([]storage.ObjectRef, 0, len(ev.Records))
	for _, rec := range ev.Records {
		if !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			r.log.Debug("skipping non-create record", "event", rec.EventName)
			continue
		}
		key, err := DecodeKey(rec.S3.Object.Key)
		if err != nil {
			r.log.Error("undecodable object key", "bucket", rec.S3.Bucket.Name, "key", rec.S3.Object.Key, "error", err)
			errs = append(errs, fmt.Errorf("decode key s3://%s/%s: %w", rec.S3.Bucket.Name, rec.S3.Object.Key, err))
			continue
		}
		objs = append(objs, storage.ObjectRef{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			ETag:   rec.S3.Object.ETag,
			Size:   rec.S3.Object.Size,
		})
	}
	return errors.Join(append(errs, r.Route(ctx, objs))...)
}

// Route hands each object to every subscription whose prefix matches its key,
// as if the object had just been created.
func (r *Router) Route(ctx context.Context, objs []storage.ObjectRef) error {
	type job struct {
		obj     storage.ObjectRef
		handler Handler
	}

	var jobs []job
	for _, obj := range objs {
		matched := false
		for _, sub := range r.subs {
			if strings.HasPrefix(obj.Key, sub.prefix) {
				jobs = append(jobs, job{obj: obj, handler: sub.handler})
				matched = true
			}
		}
		if !matched {
			r.log.Debug("no subscription for key", "bucket", obj.Bucket, "key", obj.Key)
		}
	}

	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := j.handler.ObjectCreated(ctx, j.obj); err != nil {
				errs[i] = fmt.Errorf("error processing %s: %w", j.obj, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// DecodeKey undoes the form encoding S3 applies to keys in notifications.
func DecodeKey(raw string) (string, error) {
	return url.QueryUnescape(raw)
}
