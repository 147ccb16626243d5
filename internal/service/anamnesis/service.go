package anamnesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
	"github.com/jwalitptl/anamnesis-api/pkg/token"
)

type AnamnesisService interface {
	Dispatch(ctx context.Context, templateID uuid.UUID, req *model.DispatchRequest) (*model.DispatchResult, error)
	Get(ctx context.Context, id uuid.UUID) (*model.AnamnesisDetail, error)
	LoadPublic(ctx context.Context, token string) (*model.PublicAnamnesis, error)
	SaveDraft(ctx context.Context, token string, req *model.DraftRequest) error
	Finalize(ctx context.Context, token string, req *model.FinalizeRequest) error
}

// Snapshotter provides the frozen template structure copied at dispatch.
type Snapshotter interface {
	Snapshot(ctx context.Context, id uuid.UUID) (*model.Template, model.TemplateSnapshot, error)
}

type Config struct {
	PublicBaseURL string
	LinkTTL       time.Duration
	CacheTTL      time.Duration
}

type Service struct {
	repo      repository.AnamnesisRepository
	patients  repository.PatientRepository
	templates Snapshotter
	tokens    *token.Issuer
	cache     *cache.Cache
	config    Config
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, used for link expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo repository.AnamnesisRepository,
	patients repository.PatientRepository,
	templates Snapshotter,
	tokens *token.Issuer,
	cfg Config,
	m *metrics.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	s := &Service{
		repo:      repo,
		patients:  patients,
		templates: templates,
		tokens:    tokens,
		cache:     cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		config:    cfg,
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch snapshots an active template and issues the patient's link.
func (s *Service) Dispatch(ctx context.Context, templateID uuid.UUID, req *model.DispatchRequest) (*model.DispatchResult, error) {
	tmpl, snapshot, err := s.templates.Snapshot(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.Active {
		return nil, apperrors.NewConflict("template is inactive")
	}
	patient, err := s.patients.Get(ctx, req.PatientID)
	if err != nil {
		return nil, repoErr("patient", err)
	}

	ttl := s.config.LinkTTL
	if req.ExpiresInHours > 0 {
		ttl = time.Duration(req.ExpiresInHours) * time.Hour
	}
	a := &model.Anamnesis{
		Base:       model.Base{ID: uuid.New()},
		TemplateID: templateID,
		PatientID:  patient.ID,
		ExpiresAt:  s.now().Add(ttl).UTC().Truncate(time.Microsecond),
		Status:     model.AnamnesisInProgress,
		Snapshot:   snapshot,
	}
	a.Token, err = s.tokens.Issue(a.ID, a.ExpiresAt)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	link := strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + a.Token

	event, err := newEvent(model.EventAnamnesisDispatched, model.DispatchedEvent{
		AnamnesisID:  a.ID,
		PatientName:  patient.Name,
		PatientEmail: patient.Email,
		TemplateName: tmpl.Name,
		Link:         link,
		ExpiresAt:    a.ExpiresAt,
	})
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if err := s.repo.Create(ctx, a, event); err != nil {
		return nil, fmt.Errorf("failed to create anamnesis: %w", err)
	}

	s.metrics.AnamnesesDispatched.Inc()
	s.logger.Info("anamnesis dispatched",
		"anamnesis_id", a.ID.String(), "template_id", templateID.String(), "patient_id", patient.ID.String())
	return &model.DispatchResult{Anamnesis: a, Token: a.Token, Link: link}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.AnamnesisDetail, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, repoErr("anamnesis", err)
	}
	responses, err := s.repo.ListResponses(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	return &model.AnamnesisDetail{Anamnesis: *a, Template: a.Snapshot, Responses: responses}, nil
}

// LoadPublic returns the filling document for a token. Completed instances
// load even past their expiry; other expired links are gone.
func (s *Service) LoadPublic(ctx context.Context, tok string) (*model.PublicAnamnesis, error) {
	a, err := s.resolve(ctx, tok)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AnamnesisCompleted && a.Expired(s.now()) {
		return nil, s.expire(ctx, a)
	}

	responses, err := s.repo.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	doc := &model.PublicAnamnesis{
		Anamnesis:      *a,
		Template:       a.Snapshot,
		SavedResponses: responses,
	}
	if p, err := s.patients.Get(ctx, a.PatientID); err == nil {
		doc.Patient = &model.PatientSummary{ID: p.ID, Name: p.Name}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return doc, nil
}

// SaveDraft upserts the given responses and the client-computed progress.
func (s *Service) SaveDraft(ctx context.Context, tok string, req *model.DraftRequest) error {
	a, err := s.resolve(ctx, tok)
	if err != nil {
		return err
	}
	if err := s.writable(ctx, a); err != nil {
		return err
	}
	if err := checkFields(a.Snapshot, req.Responses); err != nil {
		return err
	}

	progress := req.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := s.repo.SaveDraft(ctx, a.ID, req.Responses, progress); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewConflict("anamnesis is no longer in progress")
		}
		return fmt.Errorf("failed to save draft: %w", err)
	}
	s.cache.Delete(tok)
	s.metrics.DraftsSaved.Inc()
	return nil
}

// Finalize checks consents and required answers, then completes the
// instance and writes system-field answers into the patient record.
func (s *Service) Finalize(ctx context.Context, tok string, req *model.FinalizeRequest) error {
	a, err := s.resolve(ctx, tok)
	if err != nil {
		return err
	}
	if err := s.writable(ctx, a); err != nil {
		return err
	}
	if !req.ConsentLGPD {
		return apperrors.NewUnprocessable("consentimento_lgpd is required")
	}
	if !req.ConsentTreatment {
		return apperrors.NewUnprocessable("consentimento_tratamento is required")
	}
	if err := checkFields(a.Snapshot, req.Responses); err != nil {
		return err
	}

	stored, err := s.repo.ListResponses(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to list responses: %w", err)
	}
	answers := make(map[uuid.UUID]string, len(stored)+len(req.Responses))
	for _, r := range stored {
		answers[r.FieldID] = r.Value
	}
	for _, r := range req.Responses {
		answers[r.FieldID] = r.Value
	}
	for _, f := range a.Snapshot.Fields() {
		if f.Required && blank(f, answers[f.ID]) {
			return apperrors.NewUnprocessable(fmt.Sprintf("%s is required", f.Label))
		}
	}

	patient, err := s.applySystemFields(ctx, a, answers)
	if err != nil {
		return err
	}

	now := s.now()
	a.Status = model.AnamnesisCompleted
	a.Progress = 100
	a.ConsentLGPD = req.ConsentLGPD
	a.ConsentPhotos = req.ConsentPhotos
	a.ConsentTreatment = req.ConsentTreatment
	a.CompletedAt = &now

	event, err := newEvent(model.EventAnamnesisCompleted, model.CompletedEvent{
		AnamnesisID: a.ID,
		TemplateID:  a.TemplateID,
		PatientID:   a.PatientID,
		CompletedAt: now,
	})
	if err != nil {
		return apperrors.NewInternal(err)
	}
	if err := s.repo.Complete(ctx, a, req.Responses, patient, event); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewConflict("anamnesis is no longer in progress")
		}
		return fmt.Errorf("failed to complete anamnesis: %w", err)
	}
	s.cache.Delete(tok)
	s.metrics.AnamnesesCompleted.Inc()
	s.logger.Info("anamnesis completed", "anamnesis_id", a.ID.String())
	return nil
}

// applySystemFields copies non-empty bound answers into the patient record in
// document order, so the last bound field wins. It returns nil when nothing
// changed.
func (s *Service) applySystemFields(ctx context.Context, a *model.Anamnesis, answers map[uuid.UUID]string) (*model.Patient, error) {
	var bound []model.Field
	for _, f := range a.Snapshot.Fields() {
		if f.SystemField != nil && strings.TrimSpace(answers[f.ID]) != "" {
			bound = append(bound, f)
		}
	}
	if len(bound) == 0 {
		return nil, nil
	}

	patient, err := s.patients.Get(ctx, a.PatientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("patient missing, system fields skipped", "anamnesis_id", a.ID.String())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	for _, f := range bound {
		patient.Apply(*f.SystemField, strings.TrimSpace(answers[f.ID]))
	}
	return patient, nil
}

// resolve maps a public token to its instance through the token cache.
func (s *Service) resolve(ctx context.Context, tok string) (*model.Anamnesis, error) {
	if cached, ok := s.cache.Get(tok); ok {
		s.metrics.TokenCacheLookups.WithLabelValues("hit").Inc()
		a := cached.(model.Anamnesis)
		return &a, nil
	}
	s.metrics.TokenCacheLookups.WithLabelValues("miss").Inc()

	id, err := s.tokens.Verify(tok)
	if err != nil {
		s.metrics.LinksRejected.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewNotFound("anamnesis", err)
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.LinksRejected.WithLabelValues("unknown").Inc()
		}
		return nil, repoErr("anamnesis", err)
	}
	if a.Token != tok {
		s.metrics.LinksRejected.WithLabelValues("superseded").Inc()
		return nil, apperrors.NewNotFound("anamnesis", nil)
	}
	s.cache.Set(tok, *a, cache.DefaultExpiration)
	return a, nil
}

// writable rejects completed and expired instances.
func (s *Service) writable(ctx context.Context, a *model.Anamnesis) error {
	if a.Status == model.AnamnesisCompleted {
		s.metrics.LinksRejected.WithLabelValues("completed").Inc()
		return apperrors.NewConflict("anamnesis already completed")
	}
	if a.Expired(s.now()) {
		return s.expire(ctx, a)
	}
	return nil
}

func (s *Service) expire(ctx context.Context, a *model.Anamnesis) error {
	s.metrics.LinksRejected.WithLabelValues("expired").Inc()
	if a.Status == model.AnamnesisInProgress {
		if err := s.repo.MarkExpired(ctx, a.ID); err != nil {
			s.logger.Error(err, "failed to mark anamnesis expired", "anamnesis_id", a.ID.String())
		}
		s.cache.Delete(a.Token)
	}
	return apperrors.NewGone("link expired")
}

func checkFields(snapshot model.TemplateSnapshot, responses []model.ResponseInput) error {
	known := make(map[uuid.UUID]struct{})
	for _, f := range snapshot.Fields() {
		known[f.ID] = struct{}{}
	}
	for _, r := range responses {
		if _, ok := known[r.FieldID]; !ok {
			return apperrors.NewBadRequest(fmt.Sprintf("unknown campo_id %s", r.FieldID), nil)
		}
	}
	return nil
}

// blank reports a missing answer; an empty multi choice selection is "[]".
func blank(f model.Field, value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return true
	}
	if fieldtype.Lookup(f.Type).Capability == fieldtype.CapMultiChoice {
		var picked []string
		if err := json.Unmarshal([]byte(v), &picked); err == nil {
			return len(picked) == 0
		}
	}
	return false
}

func newEvent(eventType string, payload any) (*model.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &model.OutboxEvent{ID: uuid.New(), EventType: eventType, Payload: raw}, nil
}

func repoErr(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, err)
	}
	return apperrors.NewInternal(err)
}
