package runtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// fakeBackend plays the server side of one anamnesis instance.
type fakeBackend struct {
	mu sync.Mutex

	token     string
	anamnesis model.Anamnesis
	template  model.TemplateSnapshot
	responses map[uuid.UUID]string

	drafts    int
	finalizes int
	saveErr   error

	// saveGate, when set, holds draft saves until it is closed.
	saveGate chan struct{}
	entered  int
}

func (b *fakeBackend) GetPublicAnamnesis(ctx context.Context, token string) (*model.PublicAnamnesis, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.token {
		return nil, &apperrors.PersistenceError{Op: "get", Status: http.StatusNotFound, Message: "not found"}
	}
	doc := &model.PublicAnamnesis{
		Anamnesis: b.anamnesis,
		Template:  b.template,
		Patient:   &model.PatientSummary{ID: b.anamnesis.PatientID, Name: "Ana"},
	}
	for id, v := range b.responses {
		doc.SavedResponses = append(doc.SavedResponses, model.Response{AnamnesisID: b.anamnesis.ID, FieldID: id, Value: v})
	}
	return doc, nil
}

func (b *fakeBackend) SaveDraft(ctx context.Context, token string, req model.DraftRequest) error {
	b.mu.Lock()
	b.entered++
	gate := b.saveGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.drafts++
	if b.saveErr != nil {
		return b.saveErr
	}
	if b.anamnesis.Status != model.AnamnesisInProgress {
		return &apperrors.PersistenceError{Op: "draft", Status: http.StatusConflict, Message: "already completed"}
	}
	for _, r := range req.Responses {
		b.responses[r.FieldID] = r.Value
	}
	b.anamnesis.Progress = req.Progress
	return nil
}

func (b *fakeBackend) Finalize(ctx context.Context, token string, req model.FinalizeRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalizes++
	if b.anamnesis.Status != model.AnamnesisInProgress {
		return &apperrors.PersistenceError{Op: "finalize", Status: http.StatusConflict, Message: "already completed"}
	}
	for _, r := range req.Responses {
		b.responses[r.FieldID] = r.Value
	}
	b.anamnesis.Status = model.AnamnesisCompleted
	b.anamnesis.Progress = 100
	b.anamnesis.ConsentLGPD = req.ConsentLGPD
	b.anamnesis.ConsentPhotos = req.ConsentPhotos
	b.anamnesis.ConsentTreatment = req.ConsentTreatment
	return nil
}

func (b *fakeBackend) snapshot() (map[uuid.UUID]string, model.Anamnesis, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uuid.UUID]string, len(b.responses))
	for k, v := range b.responses {
		out[k] = v
	}
	return out, b.anamnesis, b.drafts
}

func (b *fakeBackend) savesEntered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entered
}

type skinIntake struct {
	name, phone, allergies model.Field
	backend                *fakeBackend
}

func field(sectionID uuid.UUID, label string, t model.FieldType, required bool, order int) model.Field {
	return model.Field{
		Base:      model.Base{ID: uuid.New()},
		SectionID: sectionID,
		Type:      t,
		Label:     label,
		Required:  required,
		Order:     order,
		Width:     model.WidthFull,
	}
}

func newSkinIntake() *skinIntake {
	contact := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Contact", Required: true, Order: 0}
	history := model.Section{Base: model.Base{ID: uuid.New()}, Title: "History", Order: 1}
	si := &skinIntake{
		name:      field(contact.ID, "Name", model.FieldTypeShortText, true, 0),
		phone:     field(contact.ID, "Phone", model.FieldTypePhone, true, 1),
		allergies: field(history.ID, "Allergies", model.FieldTypeLongText, false, 0),
	}
	si.backend = &fakeBackend{
		token: "tok",
		anamnesis: model.Anamnesis{
			Base:      model.Base{ID: uuid.New()},
			PatientID: uuid.New(),
			Status:    model.AnamnesisInProgress,
			ExpiresAt: time.Now().Add(time.Hour),
		},
		template: model.TemplateSnapshot{
			Name: "Skin Intake",
			Sections: []model.SectionWithFields{
				// Out of order on purpose; the session sorts.
				{Section: history, Fields: []model.Field{si.allergies}},
				{Section: contact, Fields: []model.Field{si.phone, si.name}},
			},
		},
		responses: make(map[uuid.UUID]string),
	}
	return si
}

func load(t *testing.T, b Backend, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithAutosaveInterval(0)}, opts...)
	s := NewSession(b, "tok", opts...)
	require.NoError(t, s.Load(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestSkinIntakeScenario(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)
	ctx := context.Background()

	require.Equal(t, StateActive, s.State())
	sec, ok := s.Section()
	require.True(t, ok)
	assert.Equal(t, "Contact", sec.Title)

	require.NoError(t, s.Set(si.name.ID, "Ana Souza"))
	err := s.Next()
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 0, s.Step())
	assert.Equal(t, map[uuid.UUID]string{si.phone.ID: requiredMessage}, s.Errors())

	require.NoError(t, s.Set(si.phone.ID, "+55 11 91234-5678"))
	require.NoError(t, s.Next())
	assert.Equal(t, 1, s.Step())
	assert.Empty(t, s.Errors())
	assert.Equal(t, 67, s.Progress())

	err = s.Finalize(ctx)
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "consentimento_lgpd", verr.Field)
	assert.Equal(t, StateActive, s.State())

	require.NoError(t, s.SetConsents(Consents{LGPD: true, Treatment: true}))
	require.NoError(t, s.Finalize(ctx))
	assert.Equal(t, StateCompleted, s.State())

	again := NewSession(si.backend, "tok", WithAutosaveInterval(0))
	require.NoError(t, again.Load(ctx))
	assert.Equal(t, StateCompleted, again.State())
	assert.ErrorIs(t, again.Set(si.allergies.ID, "none"), ErrNotActive)
	assert.Nil(t, again.Controls())

	responses, a, _ := si.backend.snapshot()
	assert.Equal(t, model.AnamnesisCompleted, a.Status)
	assert.Equal(t, "Ana Souza", responses[si.name.ID])
	assert.Equal(t, "", responses[si.allergies.ID])
}

func TestFinalizeWithoutTreatmentConsentIsBlocked(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)
	require.NoError(t, s.Set(si.name.ID, "Ana"))
	require.NoError(t, s.Set(si.phone.ID, "123"))
	require.NoError(t, s.Next())

	require.NoError(t, s.SetConsents(Consents{LGPD: true, Photos: true}))
	err := s.Finalize(context.Background())
	var verr *apperrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "consentimento_tratamento", verr.Field)

	s.Close()
	_, a, _ := si.backend.snapshot()
	assert.Equal(t, model.AnamnesisInProgress, a.Status)
	assert.Equal(t, 0, si.backend.finalizes)
}

func TestFinalizeOnlyFromLastStep(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)
	require.NoError(t, s.SetConsents(Consents{LGPD: true, Treatment: true}))
	assert.True(t, apperrors.IsValidation(s.Finalize(context.Background())))
	assert.False(t, s.IsLastStep())
}

func TestFinalizeChecksEveryStep(t *testing.T) {
	contact := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Contact"}
	consent := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Consent", Order: 1}
	name := field(contact.ID, "Name", model.FieldTypeShortText, true, 0)
	b := newSkinIntake().backend
	b.template = model.TemplateSnapshot{Sections: []model.SectionWithFields{
		{Section: contact, Fields: []model.Field{name}},
		{Section: consent},
	}}

	s := load(t, b)
	require.NoError(t, s.Set(name.ID, "Ana"))
	require.NoError(t, s.Next())
	require.Equal(t, 1, s.Step())
	// Blank after the step was passed.
	require.NoError(t, s.Set(name.ID, "   "))
	require.NoError(t, s.SetConsents(Consents{LGPD: true, Treatment: true}))

	assert.True(t, apperrors.IsValidation(s.Finalize(context.Background())))
	assert.Contains(t, s.Errors(), name.ID)
}

func TestPreviousNeverGoesBelowZero(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)
	require.NoError(t, s.Previous())
	assert.Equal(t, 0, s.Step())
	s.Close()
	_, _, drafts := si.backend.snapshot()
	assert.Equal(t, 0, drafts)
}

func TestProgressTracksAnswers(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)

	prev := s.Progress()
	assert.Equal(t, 0, prev)
	for _, f := range []model.Field{si.name, si.phone, si.allergies} {
		require.NoError(t, s.Set(f.ID, "x"))
		p := s.Progress()
		assert.GreaterOrEqual(t, p, prev)
		assert.LessOrEqual(t, p, 100)
		prev = p
	}
	assert.Equal(t, 100, prev)

	require.NoError(t, s.Set(si.phone.ID, ""))
	assert.Less(t, s.Progress(), prev)
}

func TestDraftSaveIsIdempotent(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)
	require.NoError(t, s.Set(si.name.ID, "Ana"))
	require.NoError(t, s.Set(si.phone.ID, "123"))

	s.autosave()
	first, a1, _ := si.backend.snapshot()
	s.autosave()
	second, a2, drafts := si.backend.snapshot()

	assert.Equal(t, 2, drafts)
	assert.Equal(t, first, second)
	assert.Len(t, second, 3)
	assert.Equal(t, a1.Progress, a2.Progress)
	assert.Equal(t, 67, a2.Progress)
}

func TestSavedAnswersAreRestored(t *testing.T) {
	sec := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Habits"}
	multi := field(sec.ID, "Concerns", model.FieldTypeMultiChoice, true, 0)
	multi.Options = []string{"Acne", "Spots", "Wrinkles"}
	b := newSkinIntake().backend
	b.template = model.TemplateSnapshot{Sections: []model.SectionWithFields{{Section: sec, Fields: []model.Field{multi}}}}

	s := load(t, b)
	require.NoError(t, s.Set(multi.ID, []string{"Wrinkles", "Acne"}))
	s.autosave()
	responses, _, _ := b.snapshot()
	assert.Equal(t, `["Acne","Wrinkles"]`, responses[multi.ID])

	again := load(t, b)
	assert.Equal(t, []string{"Acne", "Wrinkles"}, again.Answers()[multi.ID])
	controls := again.Controls()
	require.Len(t, controls, 1)
	assert.Equal(t, []string{"Acne", "Wrinkles"}, controls[0].Selected())
}

func TestEmptyMultiChoiceCountsAsMissing(t *testing.T) {
	sec := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Habits"}
	multi := field(sec.ID, "Concerns", model.FieldTypeMultiChoice, true, 0)
	multi.Options = []string{"Acne"}
	b := newSkinIntake().backend
	b.template = model.TemplateSnapshot{Sections: []model.SectionWithFields{{Section: sec, Fields: []model.Field{multi}}}}

	s := load(t, b)
	require.NoError(t, s.Set(multi.ID, []string{}))
	assert.True(t, apperrors.IsValidation(s.Next()))
	assert.Contains(t, s.Errors(), multi.ID)
}

func TestSetRejectsInvalidInput(t *testing.T) {
	sec := model.Section{Base: model.Base{ID: uuid.New()}, Title: "Body"}
	weight := field(sec.ID, "Weight", model.FieldTypeNumber, false, 0)
	b := newSkinIntake().backend
	b.template = model.TemplateSnapshot{Sections: []model.SectionWithFields{{Section: sec, Fields: []model.Field{weight}}}}

	s := load(t, b)
	assert.True(t, apperrors.IsValidation(s.Set(weight.ID, "heavy")))
	assert.NotContains(t, s.Answers(), weight.ID)
	assert.True(t, apperrors.IsValidation(s.Set(uuid.New(), "x")))
}

func TestControlsEditThroughSession(t *testing.T) {
	si := newSkinIntake()
	s := load(t, si.backend)

	controls := s.Controls()
	require.Len(t, controls, 2)
	assert.Equal(t, "Name", controls[0].Label)
	require.NoError(t, controls[1].Change("555"))
	assert.Equal(t, "555", s.Answers()[si.phone.ID])
}

func TestInvalidToken(t *testing.T) {
	si := newSkinIntake()
	s := NewSession(si.backend, "nope", WithAutosaveInterval(0))
	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateInvalid, s.State())
	assert.ErrorIs(t, s.Next(), ErrNotActive)
}

func TestExpiredInstanceIsInvalid(t *testing.T) {
	si := newSkinIntake()
	si.backend.anamnesis.Status = model.AnamnesisExpired
	s := NewSession(si.backend, "tok", WithAutosaveInterval(0))
	assert.ErrorIs(t, s.Load(context.Background()), apperrors.ErrInvalidOrExpiredLink)
	assert.Equal(t, StateInvalid, s.State())
}

func TestAutosaveRunsAndStops(t *testing.T) {
	si := newSkinIntake()
	s := NewSession(si.backend, "tok", WithAutosaveInterval(10*time.Millisecond))
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.Set(si.name.ID, "Ana"))

	assert.Eventually(t, func() bool {
		responses, _, _ := si.backend.snapshot()
		return responses[si.name.ID] == "Ana"
	}, time.Second, 5*time.Millisecond)

	s.Close()
	_, _, before := si.backend.snapshot()
	time.Sleep(50 * time.Millisecond)
	_, _, after := si.backend.snapshot()
	assert.Equal(t, before, after)
}

func TestAutosaveFailureIsSilentAndExpiryStopsIt(t *testing.T) {
	si := newSkinIntake()
	si.backend.saveErr = &apperrors.PersistenceError{Op: "draft", Status: http.StatusGone, Message: "link expired"}
	s := load(t, si.backend)

	s.autosave()
	assert.Equal(t, StateActive, s.State())
	assert.True(t, s.LinkExpired())

	s.autosave()
	_, _, drafts := si.backend.snapshot()
	assert.Equal(t, 1, drafts)
}

func TestStaleDraftIsDropped(t *testing.T) {
	si := newSkinIntake()
	s := NewSession(si.backend, "tok", WithAutosaveInterval(0))
	require.NoError(t, s.Load(context.Background()))
	defer s.Close()

	require.NoError(t, s.Set(si.name.ID, "Ana"))
	s.mu.Lock()
	older := s.draftLocked()
	s.mu.Unlock()

	require.NoError(t, s.Set(si.phone.ID, "11 99999-0000"))
	s.mu.Lock()
	newer := s.draftLocked()
	s.mu.Unlock()

	s.save(newer)
	s.save(older)

	responses, a, drafts := si.backend.snapshot()
	assert.Equal(t, 1, drafts)
	assert.Equal(t, "11 99999-0000", responses[si.phone.ID])
	assert.Equal(t, 67, a.Progress)
	assert.Equal(t, 67, s.Anamnesis().Progress)
}

func TestDraftSavesReachServerInOrder(t *testing.T) {
	si := newSkinIntake()
	si.backend.saveGate = make(chan struct{})
	s := NewSession(si.backend, "tok", WithAutosaveInterval(0))
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.Set(si.name.ID, "Ana"))
	require.NoError(t, s.Set(si.phone.ID, "11 99999-0000"))
	require.NoError(t, s.Next())
	require.Eventually(t, func() bool { return si.backend.savesEntered() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Set(si.allergies.ID, "Latex"))
	done := make(chan struct{})
	go func() {
		s.autosave()
		close(done)
	}()
	assert.Never(t, func() bool { return si.backend.savesEntered() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(si.backend.saveGate)
	<-done
	s.Close()

	responses, a, drafts := si.backend.snapshot()
	assert.Equal(t, 2, drafts)
	assert.Equal(t, "Latex", responses[si.allergies.ID])
	assert.Equal(t, 100, a.Progress)
}
