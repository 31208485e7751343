package questions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"resume-pipeline/internal/httpapi"
	"resume-pipeline/internal/pipeline"
)

// SkillsRequest is the direct-invoke payload: {"skills": [...]}.
type SkillsRequest struct {
	Skills []string `json:"skills"`
}

// Worker turns Parsed documents into Questioned ones.
type Worker struct {
	gen     *Generator
	store   pipeline.Store
	modelID string
	log     *slog.Logger
	now     func() time.Time
}

func NewWorker(gen *Generator, store pipeline.Store, modelID string, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{gen: gen, store: store, modelID: modelID, log: log, now: time.Now}
}

// Parsed generates questions for the document in ev. Redelivered events for
// documents that are already Questioned, or were never Parsed, are no-ops.
func (w *Worker) Parsed(ctx context.Context, ev pipeline.ParsedEvent) error {
	log := w.log.With("document_id", ev.DocumentID, "key", ev.Key)

	rec, err := w.store.Get(ctx, ev.DocumentID)
	if errors.Is(err, pipeline.ErrNotFound) {
		log.Warn("parsed event for unknown document")
		return nil
	}
	if err != nil {
		return err
	}
	switch rec.Stage {
	case pipeline.StageQuestioned:
		log.Info("already questioned, skipping")
		return nil
	case pipeline.StageParsed:
	default:
		log.Info("document not in Parsed stage, skipping", "stage", rec.Stage)
		return nil
	}

	skills := ev.Skills
	if rec.Parsed != nil && len(rec.Parsed.Skills) > 0 {
		skills = rec.Parsed.Skills
	}

	bySkill, err := w.gen.Generate(ctx, skills)
	if errors.Is(err, ErrNoSkills) {
		log.Warn("no skills to generate questions for")
		return w.store.MarkFailed(ctx, ev.DocumentID, pipeline.StageParsed, ErrNoSkills.Error())
	}
	if err != nil {
		if IsRetryable(err) || errors.Is(err, context.Canceled) {
			log.Warn("question generation failed, will retry", "error", err)
			return err
		}
		log.Error("question generation failed", "error", err)
		return w.store.MarkFailed(ctx, ev.DocumentID, pipeline.StageParsed, err.Error())
	}

	qs := pipeline.QuestionSet{
		ModelID:     w.modelID,
		GeneratedAt: w.now().UTC(),
		BySkill:     bySkill,
	}
	if err := w.store.MarkQuestioned(ctx, ev.DocumentID, qs); err != nil {
		if !errors.Is(err, pipeline.ErrStageConflict) {
			return err
		}
		// a concurrent delivery may have finished first
		cur, getErr := w.store.Get(ctx, ev.DocumentID)
		if getErr == nil && cur.Stage == pipeline.StageQuestioned {
			log.Info("questioned by a concurrent delivery")
			return nil
		}
		return err
	}

	log.Info("document questioned", "skills", len(bySkill), "questions", qs.Count())
	return nil
}

// HandleSNS processes the parsed-document notifications in ev.
func (w *Worker) HandleSNS(ctx context.Context, ev events.SNSEvent) error {
	var errs []error
	for _, rec := range ev.Records {
		var pe pipeline.ParsedEvent
		if err := json.Unmarshal([]byte(rec.SNS.Message), &pe); err != nil || pe.DocumentID == "" {
			w.log.Error("dropping malformed parsed event", "message_id", rec.SNS.MessageID, "error", err)
			continue
		}
		if err := w.Parsed(ctx, pe); err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", pe.DocumentID, err))
		}
	}
	return errors.Join(errs...)
}

// HandleSkills answers a direct {"skills": [...]} request with {skill: [questions]}.
func (w *Worker) HandleSkills(ctx context.Context, req SkillsRequest) (events.APIGatewayV2HTTPResponse, error) {
	bySkill, err := w.gen.Generate(ctx, req.Skills)
	switch {
	case errors.Is(err, ErrNoSkills):
		return httpapi.Error(http.StatusBadRequest, "No skills provided", nil)
	case IsRetryable(err):
		w.log.Warn("inference throttled", "error", err)
		return httpapi.Error(http.StatusServiceUnavailable, "inference_unavailable", err)
	case err != nil:
		w.log.Error("question generation failed", "error", err)
		return httpapi.Error(http.StatusBadGateway, "inference_failed", err)
	}
	return httpapi.OK(bySkill)
}

// HandleHTTP serves POST /questions.
func (w *Worker) HandleHTTP(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if httpapi.Method(req) != http.MethodPost {
		return httpapi.Error(http.StatusMethodNotAllowed, "method not allowed", nil)
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		b, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return httpapi.Error(http.StatusBadRequest, "invalid_body", err)
		}
		body = b
	}

	var sr SkillsRequest
	if err := json.Unmarshal(body, &sr); err != nil {
		return httpapi.Error(http.StatusBadRequest, "invalid_json", err)
	}
	return w.HandleSkills(ctx, sr)
}

// HandleInvoke accepts the raw Lambda payload: an SNS event carrying parsed
// documents, or a direct SkillsRequest.
func (w *Worker) HandleInvoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var envelope struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Records) > 0 {
		var ev events.SNSEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode sns event: %w", err)
		}
		return nil, w.HandleSNS(ctx, ev)
	}

	var req SkillsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return httpapi.Error(http.StatusBadRequest, "invalid_json", err)
	}
	return w.HandleSkills(ctx, req)
}
