// Package runtime drives one public filling session of an anamnesis: it
// loads the instance by token, walks the patient through one step per
// section, autosaves drafts and finalizes once the consents are given.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwalitptl/anamnesis-api/internal/client"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/render"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// Backend is the public part of the forms API.
type Backend interface {
	GetPublicAnamnesis(ctx context.Context, token string) (*model.PublicAnamnesis, error)
	SaveDraft(ctx context.Context, token string, req model.DraftRequest) error
	Finalize(ctx context.Context, token string, req model.FinalizeRequest) error
}

type State int

const (
	StateLoading State = iota
	StateActive
	StateCompleted
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateInvalid:
		return "invalid"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotActive = errors.New("session is not active")
	ErrBusy      = errors.New("session is busy")
)

const requiredMessage = "This field is required"

// Consents are the three independent consent flags of an instance. LGPD
// and Treatment are mandatory to finalize.
type Consents struct {
	LGPD      bool
	Photos    bool
	Treatment bool
}

type Session struct {
	backend    Backend
	token      string
	dispatcher *render.Dispatcher
	logger     *zap.Logger

	autosaveInterval time.Duration
	saveTimeout      time.Duration

	mu          sync.Mutex
	state       State
	anamnesis   model.Anamnesis
	template    model.TemplateSnapshot
	patient     *model.PatientSummary
	fields      map[uuid.UUID]model.Field
	step        int
	answers     map[uuid.UUID]any
	errs        map[uuid.UUID]string
	consents    Consents
	busy        bool
	linkExpired bool

	stop     chan struct{}
	inflight sync.WaitGroup

	// draftSeq numbers draft snapshots and is guarded by mu. saveMu lets one
	// draft reach the backend at a time; sentSeq is the newest one sent.
	draftSeq uint64
	saveMu   sync.Mutex
	sentSeq  uint64
}

// draft is a numbered snapshot of the answers.
type draft struct {
	seq uint64
	req model.DraftRequest
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithDispatcher(d *render.Dispatcher) Option {
	return func(s *Session) { s.dispatcher = d }
}

// WithAutosaveInterval sets the draft autosave period. Zero disables it.
func WithAutosaveInterval(d time.Duration) Option {
	return func(s *Session) { s.autosaveInterval = d }
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Session) { s.saveTimeout = d }
}

// NewSession returns a session in the Loading state for token.
func NewSession(backend Backend, token string, opts ...Option) *Session {
	s := &Session{
		backend:          backend,
		token:            token,
		dispatcher:       render.NewDispatcher(),
		logger:           zap.NewNop(),
		autosaveInterval: 30 * time.Second,
		saveTimeout:      15 * time.Second,
		answers:          make(map[uuid.UUID]any),
		errs:             make(map[uuid.UUID]string),
		fields:           make(map[uuid.UUID]model.Field),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the instance. It moves the session to Active, to Completed
// when the instance was already finalized, or to Invalid.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.mu.Unlock()

	doc, err := s.backend.GetPublicAnamnesis(ctx, s.token)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateInvalid
		s.logger.Info("anamnesis link rejected", zap.Error(err))
		return err
	}

	s.anamnesis = doc.Anamnesis
	s.patient = doc.Patient
	s.template = sortSnapshot(doc.Template)

	switch doc.Anamnesis.Status {
	case model.AnamnesisCompleted:
		s.state = StateCompleted
		return nil
	case model.AnamnesisExpired:
		s.state = StateInvalid
		return apperrors.ErrInvalidOrExpiredLink
	}

	for _, f := range s.template.Fields() {
		s.fields[f.ID] = f
	}
	for _, r := range doc.SavedResponses {
		f, ok := s.fields[r.FieldID]
		if !ok {
			continue
		}
		s.answers[f.ID] = decodeAnswer(f, r.Value)
	}
	s.consents = Consents{
		LGPD:      doc.Anamnesis.ConsentLGPD,
		Photos:    doc.Anamnesis.ConsentPhotos,
		Treatment: doc.Anamnesis.ConsentTreatment,
	}
	s.step = 0
	s.state = StateActive
	s.startAutosave()
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Steps is the number of steps, one per section.
func (s *Session) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.template.Sections)
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LinkExpired reports whether the server refused a save because the link
// expired. Autosave stops once it does.
func (s *Session) LinkExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkExpired
}

func (s *Session) Anamnesis() model.Anamnesis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anamnesis
}

func (s *Session) Template() model.TemplateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template
}

func (s *Session) Patient() *model.PatientSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patient
}

// Section returns the section of the current step.
func (s *Session) Section() (model.Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step >= len(s.template.Sections) {
		return model.Section{}, false
	}
	return s.template.Sections[s.step].Section, true
}

// Controls renders the fields of the current step.
func (s *Session) Controls() []render.Control {
	s.mu.Lock()
	if s.state != StateActive || s.step >= len(s.template.Sections) {
		s.mu.Unlock()
		return nil
	}
	fields := s.template.Sections[s.step].Fields
	answers := copyAnswers(s.answers)
	errs := make(map[uuid.UUID]string, len(s.errs))
	for k, v := range s.errs {
		errs[k] = v
	}
	s.mu.Unlock()

	return s.dispatcher.RenderAll(fields, answers, errs, s.onChange)
}

// Answers returns a copy of the answer map.
func (s *Session) Answers() map[uuid.UUID]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAnswers(s.answers)
}

// Errors returns a copy of the per-field error map.
func (s *Session) Errors() map[uuid.UUID]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]string, len(s.errs))
	for k, v := range s.errs {
		out[k] = v
	}
	return out
}

func (s *Session) Consents() Consents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consents
}

// Set validates value for the field's input type and stores it.
func (s *Session) Set(fieldID uuid.UUID, value any) error {
	s.mu.Lock()
	if err := s.checkInput(); err != nil {
		s.mu.Unlock()
		return err
	}
	f, ok := s.fields[fieldID]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewValidation("campo_id", "unknown field")
	}
	return s.dispatcher.Render(f, nil, s.onChange).Change(value)
}

func (s *Session) onChange(fieldID uuid.UUID, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkInput() != nil {
		return
	}
	if _, ok := s.fields[fieldID]; !ok {
		return
	}
	s.answers[fieldID] = value
	delete(s.errs, fieldID)
}

func (s *Session) SetConsents(c Consents) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInput(); err != nil {
		return err
	}
	s.consents = c
	return nil
}

// Progress is the share of all fields, across every section, that hold a
// non-empty answer, rounded to a whole percentage.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() int {
	total := len(s.fields)
	if total == 0 {
		return 0
	}
	filled := 0
	for id := range s.fields {
		if !isEmpty(s.answers[id]) {
			filled++
		}
	}
	return int(math.Round(100 * float64(filled) / float64(total)))
}

// Next validates the required fields of the current step. When they are all
// filled it saves a draft in the background and advances one step; when
// not, it records an error per missing field and stays put.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInput(); err != nil {
		return err
	}

	s.errs = make(map[uuid.UUID]string)
	if s.step < len(s.template.Sections) {
		if missing := s.validateLocked(s.template.Sections[s.step].Fields); missing > 0 {
			return apperrors.NewValidation("", fmt.Sprintf("%d required field(s) left empty", missing))
		}
	}

	d := s.draftLocked()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.save(d)
	}()

	if s.step < len(s.template.Sections)-1 {
		s.step++
	}
	return nil
}

// Previous goes back one step without validating or saving.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInput(); err != nil {
		return err
	}
	if s.step > 0 {
		s.step--
	}
	return nil
}

// IsLastStep reports whether the current step is the final one.
func (s *Session) IsLastStep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step >= len(s.template.Sections)-1
}

// Finalize validates every required field and the mandatory consents, then
// submits the answers and waits for the outcome. Input is refused while the
// call is in flight.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkInput(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.step < len(s.template.Sections)-1 {
		s.mu.Unlock()
		return apperrors.NewValidation("", "finalize is only available on the last step")
	}

	s.errs = make(map[uuid.UUID]string)
	if missing := s.validateLocked(s.template.Fields()); missing > 0 {
		s.mu.Unlock()
		return apperrors.NewValidation("", fmt.Sprintf("%d required field(s) left empty", missing))
	}
	if !s.consents.LGPD {
		s.mu.Unlock()
		return apperrors.NewValidation("consentimento_lgpd", "data-use consent is required")
	}
	if !s.consents.Treatment {
		s.mu.Unlock()
		return apperrors.NewValidation("consentimento_tratamento", "treatment authorization is required")
	}

	req := model.FinalizeRequest{
		Responses:        s.serializeLocked(),
		ConsentLGPD:      s.consents.LGPD,
		ConsentPhotos:    s.consents.Photos,
		ConsentTreatment: s.consents.Treatment,
	}
	s.busy = true
	s.mu.Unlock()

	err := s.backend.Finalize(ctx, s.token, req)

	s.mu.Lock()
	s.busy = false
	if err != nil {
		if linkGone(err) {
			s.state = StateInvalid
			s.linkExpired = true
			s.stopAutosaveLocked()
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidOrExpiredLink, err)
		}
		s.mu.Unlock()
		s.logger.Warn("finalize failed", zap.Error(err))
		return err
	}

	now := time.Now()
	s.state = StateCompleted
	s.anamnesis.Status = model.AnamnesisCompleted
	s.anamnesis.Progress = 100
	s.anamnesis.CompletedAt = &now
	s.anamnesis.ConsentLGPD = req.ConsentLGPD
	s.anamnesis.ConsentPhotos = req.ConsentPhotos
	s.anamnesis.ConsentTreatment = req.ConsentTreatment
	s.stopAutosaveLocked()
	id := s.anamnesis.ID
	s.mu.Unlock()

	s.logger.Info("anamnesis finalized", zap.String("anamnesis_id", id.String()))
	return nil
}

// Close stops autosave and waits for in-flight saves. The session cannot be
// edited afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopAutosaveLocked()
	if s.state == StateActive || s.state == StateLoading {
		s.state = StateInvalid
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Session) checkInput() error {
	if s.state != StateActive {
		return ErrNotActive
	}
	if s.busy {
		return ErrBusy
	}
	return nil
}

// validateLocked records an error for each required field in fields with
// an empty answer and returns how many there were.
func (s *Session) validateLocked(fields []model.Field) int {
	missing := 0
	for _, f := range fields {
		if f.Required && isEmpty(s.answers[f.ID]) {
			s.errs[f.ID] = requiredMessage
			missing++
		}
	}
	return missing
}

func (s *Session) draftLocked() draft {
	s.draftSeq++
	return draft{
		seq: s.draftSeq,
		req: model.DraftRequest{
			Responses: s.serializeLocked(),
			Progress:  s.progressLocked(),
		},
	}
}

func (s *Session) serializeLocked() []model.ResponseInput {
	return Serialize(s.template, s.answers)
}

// save sends d unless a newer draft has already been sent.
func (s *Session) save(d draft) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if d.seq <= s.sentSeq {
		s.logger.Debug("stale draft dropped", zap.Uint64("seq", d.seq))
		return
	}
	s.sentSeq = d.seq

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	err := s.backend.SaveDraft(ctx, s.token, d.req)
	if err == nil {
		s.mu.Lock()
		s.anamnesis.Progress = d.req.Progress
		s.mu.Unlock()
		return
	}

	s.logger.Warn("draft not saved", zap.Error(&apperrors.AutosaveFailure{Err: err}))
	if linkGone(err) {
		s.mu.Lock()
		s.linkExpired = true
		s.stopAutosaveLocked()
		s.mu.Unlock()
	}
}

func (s *Session) startAutosave() {
	if s.autosaveInterval <= 0 || s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ticker := time.NewTicker(s.autosaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.autosave()
			}
		}
	}()
}

func (s *Session) autosave() {
	s.mu.Lock()
	if s.state != StateActive || s.busy || s.linkExpired {
		s.mu.Unlock()
		return
	}
	d := s.draftLocked()
	s.mu.Unlock()
	s.save(d)
}

func (s *Session) stopAutosaveLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

func linkGone(err error) bool {
	switch client.StatusOf(err) {
	case http.StatusGone, http.StatusNotFound:
		return true
	}
	return errors.Is(err, apperrors.ErrInvalidOrExpiredLink)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func sortSnapshot(t model.TemplateSnapshot) model.TemplateSnapshot {
	sections := make([]model.SectionWithFields, len(t.Sections))
	copy(sections, t.Sections)
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Section.Order < sections[j].Section.Order
	})
	for i := range sections {
		fields := make([]model.Field, len(sections[i].Fields))
		copy(fields, sections[i].Fields)
		sort.SliceStable(fields, func(a, b int) bool { return fields[a].Order < fields[b].Order })
		sections[i].Fields = fields
	}
	t.Sections = sections
	return t
}

func copyAnswers(in map[uuid.UUID]any) map[uuid.UUID]any {
	out := make(map[uuid.UUID]any, len(in))
	for k, v := range in {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}
