package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists pipeline state. Every transition is conditional on the
// current stage so duplicate deliveries can never overwrite newer state.
type Store interface {
	// Claim takes ownership of rec for lease. When the document is already
	// known and not claimable, claimed is false and existing holds its state.
	Claim(ctx context.Context, rec Record, lease time.Duration) (claimed bool, existing *Record, err error)
	// MarkParsed moves Uploaded -> Parsed.
	MarkParsed(ctx context.Context, id string, res ParsedResult) error
	MarkHandedOff(ctx context.Context, id string) error
	// MarkQuestioned moves Parsed -> Questioned.
	MarkQuestioned(ctx context.Context, id string, qs QuestionSet) error
	// MarkFailed moves Uploaded or Parsed -> Failed.
	MarkFailed(ctx context.Context, id string, at Stage, reason string) error
	// Release gives up a claim so a redelivered event can take it again.
	Release(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Record, error)
	// Latest returns the most recently updated record for an object, whatever
	// its ETag.
	Latest(ctx context.Context, bucket, key string) (*Record, error)
	// Each calls fn for every record.
	Each(ctx context.Context, fn func(Record) error) error
}

const dayLayout = "2006-01-02"

// MemoryStore is a Store kept in process memory. Local runs and tests use it.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string]Record{}, now: time.Now}
}

// SetClock replaces the store's time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) touch(r *Record) {
	now := m.now().UTC()
	r.UpdatedAt = now.Format(time.RFC3339)
	r.UpdatedDay = now.Format(dayLayout)
}

func (m *MemoryStore) Claim(ctx context.Context, rec Record, lease time.Duration) (bool, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	cur, ok := m.recs[rec.ID]
	if ok && !(cur.Stage == StageUploaded && cur.LeaseUntil < now.Unix()) {
		cp := cur
		return false, &cp, nil
	}

	if ok {
		rec.CreatedAt = cur.CreatedAt
		rec.Attempts = cur.Attempts
	} else {
		rec.CreatedAt = now.Format(time.RFC3339)
	}
	rec.Stage = StageUploaded
	rec.Attempts++
	rec.LeaseUntil = now.Add(lease).Unix()
	m.touch(&rec)
	m.recs[rec.ID] = rec
	return true, nil, nil
}

func (m *MemoryStore) update(id string, from []Stage, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	if len(from) > 0 && !stageIn(cur.Stage, from) {
		return ErrStageConflict
	}
	fn(&cur)
	m.touch(&cur)
	m.recs[id] = cur
	return nil
}

func (m *MemoryStore) MarkParsed(ctx context.Context, id string, res ParsedResult) error {
	return m.update(id, []Stage{StageUploaded}, func(r *Record) {
		parsed := res.Resume
		r.Stage = StageParsed
		r.Parsed = &parsed
		r.ContactEnc = res.ContactEnc
		r.LeaseUntil = 0
	})
}

func (m *MemoryStore) MarkHandedOff(ctx context.Context, id string) error {
	return m.update(id, nil, func(r *Record) { r.HandedOff = true })
}

func (m *MemoryStore) MarkQuestioned(ctx context.Context, id string, qs QuestionSet) error {
	return m.update(id, []Stage{StageParsed}, func(r *Record) {
		r.Stage = StageQuestioned
		r.Questions = &qs
	})
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id string, at Stage, reason string) error {
	return m.update(id, []Stage{StageUploaded, StageParsed}, func(r *Record) {
		r.Stage = StageFailed
		r.FailedStage = at
		r.FailureReason = reason
		r.LeaseUntil = 0
	})
}

func (m *MemoryStore) Release(ctx context.Context, id string) error {
	return m.update(id, []Stage{StageUploaded}, func(r *Record) { r.LeaseUntil = 0 })
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &cur, nil
}

func (m *MemoryStore) Latest(ctx context.Context, bucket, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Record
	for _, r := range m.recs {
		if r.Bucket != bucket || r.Key != key {
			continue
		}
		if latest == nil || r.UpdatedAt > latest.UpdatedAt {
			cur := r
			latest = &cur
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) Each(ctx context.Context, fn func(Record) error) error {
	m.mu.Lock()
	recs := make([]Record, 0, len(m.recs))
	for _, r := range m.recs {
		recs = append(recs, r)
	}
	m.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func stageIn(s Stage, list []Stage) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}
