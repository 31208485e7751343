package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"resume-pipeline/internal/resume"
	"resume-pipeline/internal/storage"
)

type Stage string

const (
	StageUploaded   Stage = "Uploaded"
	StageParsed     Stage = "Parsed"
	StageQuestioned Stage = "Questioned"
	StageFailed     Stage = "Failed"
)

// Terminal reports whether no further work happens for a document in stage s.
func (s Stage) Terminal() bool {
	return s == StageQuestioned || s == StageFailed
}

var (
	ErrNotFound      = errors.New("document not found")
	ErrStageConflict = errors.New("stage transition not allowed")
)

// PermanentError marks a failure that retrying cannot fix, such as a corrupt upload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// DocumentID identifies one version of an uploaded object: bucket/key#etag.
// Re-uploading the same key with new content yields a new document.
func DocumentID(obj storage.ObjectRef) string {
	id := obj.Bucket + "/" + obj.Key
	if etag := strings.Trim(obj.ETag, `"`); etag != "" {
		id += "#" + etag
	}
	return id
}

// QuestionSet is the generator output for one document, keyed by skill.
type QuestionSet struct {
	ModelID     string              `json:"model_id" dynamodbav:"ModelID"`
	GeneratedAt time.Time           `json:"generated_at" dynamodbav:"GeneratedAt"`
	BySkill     map[string][]string `json:"questions" dynamodbav:"BySkill"`
}

// Count returns the total number of questions across skills.
func (q QuestionSet) Count() int {
	n := 0
	for _, qs := range q.BySkill {
		n += len(qs)
	}
	return n
}

// Record is the state-table item for one document.
type Record struct {
	ID            string         `json:"document_id" dynamodbav:"PK"`
	Bucket        string         `json:"bucket" dynamodbav:"Bucket"`
	Key           string         `json:"key" dynamodbav:"ObjectKey"`
	ETag          string         `json:"etag,omitempty" dynamodbav:"ETag,omitempty"`
	Stage         Stage          `json:"stage" dynamodbav:"Stage"`
	Attempts      int            `json:"attempts" dynamodbav:"Attempts"`
	LeaseUntil    int64          `json:"-" dynamodbav:"LeaseUntil,omitempty"`
	Parsed        *resume.Resume `json:"parsed,omitempty" dynamodbav:"Parsed,omitempty"`
	ContactEnc    string         `json:"-" dynamodbav:"ContactEnc,omitempty"`
	HandedOff     bool           `json:"handed_off" dynamodbav:"HandedOff"`
	Questions     *QuestionSet   `json:"questions,omitempty" dynamodbav:"Questions,omitempty"`
	FailedStage   Stage          `json:"failed_stage,omitempty" dynamodbav:"FailedStage,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty" dynamodbav:"FailureReason,omitempty"`
	CreatedAt     string         `json:"created_at" dynamodbav:"CreatedAt"`
	UpdatedAt     string         `json:"updated_at" dynamodbav:"UpdatedAt"`
	UpdatedDay    string         `json:"-" dynamodbav:"UpdatedDay"` // YYYY-MM-DD, UTC
}

func (r Record) Object() storage.ObjectRef {
	return storage.ObjectRef{Bucket: r.Bucket, Key: r.Key, ETag: r.ETag}
}

// NewRecord returns the Uploaded record a worker claims for obj.
func NewRecord(obj storage.ObjectRef) Record {
	return Record{
		ID:     DocumentID(obj),
		Bucket: obj.Bucket,
		Key:    obj.Key,
		ETag:   strings.Trim(obj.ETag, `"`),
		Stage:  StageUploaded,
	}
}

// ParsedResult is what the parser stores for a document.
type ParsedResult struct {
	Resume     resume.Resume
	ContactEnc string // sealed contact details; Resume.Contact is empty when set
}

// ParsedEvent announces that a document reached Parsed. It is the message the
// parser hands to the question generator.
type ParsedEvent struct {
	DocumentID string   `json:"document_id"`
	Bucket     string   `json:"bucket"`
	Key        string   `json:"key"`
	Skills     []string `json:"skills"`
}
