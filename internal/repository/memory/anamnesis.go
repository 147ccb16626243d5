package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
)

type anamnesisRepository struct {
	db *DB
}

func NewAnamnesisRepository(db *DB) repository.AnamnesisRepository {
	return &anamnesisRepository{db: db}
}

func (r *anamnesisRepository) Create(ctx context.Context, a *model.Anamnesis, event *model.OutboxEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.stamp(&a.Base)
	r.db.anamneses[a.ID] = *a
	r.db.addEvent(event)
	return nil
}

func (r *anamnesisRepository) Get(ctx context.Context, id uuid.UUID) (*model.Anamnesis, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.anamneses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *anamnesisRepository) GetByToken(ctx context.Context, token string) (*model.Anamnesis, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, a := range r.db.anamneses {
		if a.Token == token {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *anamnesisRepository) CountByTemplate(ctx context.Context, templateID uuid.UUID) (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	n := 0
	for _, a := range r.db.anamneses {
		if a.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func (r *anamnesisRepository) ListResponses(ctx context.Context, anamnesisID uuid.UUID) ([]model.Response, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]model.Response, 0, len(r.db.responses[anamnesisID]))
	for _, resp := range r.db.responses[anamnesisID] {
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID.String() < out[j].FieldID.String() })
	return out, nil
}

func (r *anamnesisRepository) SaveDraft(ctx context.Context, id uuid.UUID, responses []model.ResponseInput, progress int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.anamneses[id]
	if !ok || a.Status != model.AnamnesisInProgress {
		return repository.ErrNotFound
	}
	now := r.db.now()
	r.upsert(id, responses, now)
	a.Progress = progress
	a.UpdatedAt = now
	r.db.anamneses[id] = a
	return nil
}

func (r *anamnesisRepository) Complete(ctx context.Context, a *model.Anamnesis, responses []model.ResponseInput, patient *model.Patient, event *model.OutboxEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.anamneses[a.ID]
	if !ok || cur.Status != model.AnamnesisInProgress {
		return repository.ErrNotFound
	}
	if patient != nil {
		if _, ok := r.db.patients[patient.ID]; !ok {
			return repository.ErrNotFound
		}
	}
	now := r.db.now()
	r.upsert(a.ID, responses, now)
	a.UpdatedAt = now
	r.db.anamneses[a.ID] = *a
	if patient != nil {
		patient.UpdatedAt = now
		r.db.patients[patient.ID] = *patient
	}
	r.db.addEvent(event)
	return nil
}

func (r *anamnesisRepository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.anamneses[id]
	if !ok {
		return repository.ErrNotFound
	}
	if a.Status == model.AnamnesisInProgress {
		a.Status = model.AnamnesisExpired
		a.UpdatedAt = r.db.now()
		r.db.anamneses[id] = a
	}
	return nil
}

func (r *anamnesisRepository) upsert(id uuid.UUID, responses []model.ResponseInput, now time.Time) {
	stored := r.db.responses[id]
	if stored == nil {
		stored = make(map[uuid.UUID]model.Response)
		r.db.responses[id] = stored
	}
	for _, in := range responses {
		stored[in.FieldID] = model.Response{AnamnesisID: id, FieldID: in.FieldID, Value: in.Value, UpdatedAt: now}
	}
}

type patientRepository struct {
	db *DB
}

func NewPatientRepository(db *DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.stamp(&patient.Base)
	r.db.patients[patient.ID] = *patient
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[patient.ID]; !ok {
		return repository.ErrNotFound
	}
	r.db.stamp(&patient.Base)
	r.db.patients[patient.ID] = *patient
	return nil
}

func (r *patientRepository) List(ctx context.Context) ([]*model.Patient, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]*model.Patient, 0, len(r.db.patients))
	for _, p := range r.db.patients {
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type outboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.addEvent(event)
	return nil
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*model.OutboxEvent
	for _, e := range r.db.outbox {
		if e.Status == model.OutboxStatusPending {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := r.db.now()
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = now
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	r.db.outbox[id] = e
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, e := range r.db.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.db.outbox, id)
			n++
		}
	}
	return n, nil
}
