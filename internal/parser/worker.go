package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/handoff"
	"resume-pipeline/internal/pipeline"
	"resume-pipeline/internal/resume"
	"resume-pipeline/internal/storage"
)

var ErrNothingExtracted = errors.New("nothing could be extracted from the document")

type Downloader interface {
	Download(ctx context.Context, ref storage.ObjectRef, maxBytes int64) ([]byte, error)
}

// Sealer encrypts contact details before they are stored.
type Sealer interface {
	Seal(v any) (string, error)
}

// Worker is the parser stage: one invocation per created object.
type Worker struct {
	store    pipeline.Store
	objects  Downloader
	handoff  handoff.Handoff
	sealer   Sealer
	maxBytes int64
	lease    time.Duration
	log      *slog.Logger
}

// New returns a parser worker. sealer may be nil, in which case contact
// details are stored as extracted.
func New(cfg config.Parser, store pipeline.Store, objects Downloader, h handoff.Handoff, sealer Sealer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:    store,
		objects:  objects,
		handoff:  h,
		sealer:   sealer,
		maxBytes: cfg.MaxObjectBytes,
		lease:    cfg.ClaimLease,
		log:      log,
	}
}

// ObjectCreated parses obj and hands the result on. Permanent failures are
// recorded and swallowed; anything else is returned so the event is redelivered.
func (w *Worker) ObjectCreated(ctx context.Context, obj storage.ObjectRef) error {
	rec := pipeline.NewRecord(obj)
	log := w.log.With("bucket", obj.Bucket, "key", obj.Key, "document_id", rec.ID)

	claimed, existing, err := w.store.Claim(ctx, rec, w.lease)
	if err != nil {
		return err
	}
	if !claimed {
		if existing.Stage == pipeline.StageParsed && !existing.HandedOff {
			log.Info("resuming hand-off for parsed document")
			return w.handOff(ctx, existing, log)
		}
		log.Info("duplicate notification, skipping", "stage", existing.Stage)
		return nil
	}

	res, err := w.parse(ctx, obj)
	if err != nil {
		if pipeline.IsPermanent(err) {
			log.Warn("document failed to parse", "stage", pipeline.StageFailed, "error", err)
			return w.store.MarkFailed(ctx, rec.ID, pipeline.StageUploaded, err.Error())
		}
		log.Error("parse attempt failed, releasing claim", "error", err)
		w.release(ctx, rec.ID, log)
		return err
	}

	if err := w.store.MarkParsed(ctx, rec.ID, res); err != nil {
		if errors.Is(err, pipeline.ErrStageConflict) {
			log.Warn("document advanced by another invocation", "error", err)
			return nil
		}
		w.release(ctx, rec.ID, log)
		return err
	}
	log.Info("document parsed", "stage", pipeline.StageParsed, "skills", len(res.Resume.Skills))

	rec.Stage = pipeline.StageParsed
	rec.Parsed = &res.Resume
	return w.handOff(ctx, &rec, log)
}

func (w *Worker) parse(ctx context.Context, obj storage.ObjectRef) (pipeline.ParsedResult, error) {
	if w.maxBytes > 0 && obj.Size > w.maxBytes {
		return pipeline.ParsedResult{}, pipeline.Permanentf("%w: %d bytes", storage.ErrObjectTooLarge, obj.Size)
	}

	data, err := w.objects.Download(ctx, obj, w.maxBytes)
	switch {
	case errors.Is(err, storage.ErrObjectTooLarge), errors.Is(err, storage.ErrObjectNotFound):
		return pipeline.ParsedResult{}, pipeline.Permanent(err)
	case err != nil:
		return pipeline.ParsedResult{}, fmt.Errorf("download %s: %w", obj, err)
	}

	text, err := resume.ExtractText(obj.Key, data)
	if err != nil {
		return pipeline.ParsedResult{}, pipeline.Permanent(err)
	}

	r := resume.Parse(text)
	if r.Empty() {
		return pipeline.ParsedResult{}, pipeline.Permanent(ErrNothingExtracted)
	}

	out := pipeline.ParsedResult{Resume: r}
	if w.sealer != nil && !r.Contact.Empty() {
		sealed, err := w.sealer.Seal(r.Contact)
		if err != nil {
			return pipeline.ParsedResult{}, fmt.Errorf("seal contact: %w", err)
		}
		out.ContactEnc = sealed
		out.Resume.Contact = resume.Contact{}
	}
	return out, nil
}

func (w *Worker) handOff(ctx context.Context, rec *pipeline.Record, log *slog.Logger) error {
	ev := pipeline.ParsedEvent{DocumentID: rec.ID, Bucket: rec.Bucket, Key: rec.Key}
	if rec.Parsed != nil {
		ev.Skills = rec.Parsed.Skills
	}

	if err := w.handoff.Parsed(ctx, ev); err != nil {
		log.Error("hand-off failed", "error", err)
		return fmt.Errorf("hand off %s: %w", rec.ID, err)
	}
	if err := w.store.MarkHandedOff(ctx, rec.ID); err != nil {
		return err
	}
	log.Info("handed off to question generation", "skills", len(ev.Skills))
	return nil
}

func (w *Worker) release(ctx context.Context, id string, log *slog.Logger) {
	if err := w.store.Release(ctx, id); err != nil {
		log.Warn("release claim failed", "error", err)
	}
}
