// Package builder holds the staff-side editing model of one template: the
// document store that owns its sections and fields, the optimistic
// reordering on top of it, the drag-and-drop canvas and the live preview.
package builder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// Backend is the slice of the forms API the builder persists through.
type Backend interface {
	GetTemplate(ctx context.Context, templateID uuid.UUID) (*model.TemplateDocument, error)
	CreateSection(ctx context.Context, templateID uuid.UUID, req model.CreateSectionRequest) (*model.Section, error)
	UpdateSection(ctx context.Context, sectionID uuid.UUID, patch model.SectionPatch) (*model.Section, error)
	DeleteSection(ctx context.Context, sectionID uuid.UUID) error
	ReorderSections(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) ([]model.Section, error)
	CreateField(ctx context.Context, sectionID uuid.UUID, req model.CreateFieldRequest) (*model.Field, error)
	UpdateField(ctx context.Context, fieldID uuid.UUID, patch model.FieldPatch) (*model.Field, error)
	DeleteField(ctx context.Context, fieldID uuid.UUID) error
	DuplicateField(ctx context.Context, fieldID uuid.UUID) (*model.Field, error)
	ReorderFields(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) ([]model.Field, error)
}

// Notifier shows a background failure to the user.
type Notifier func(err error)

// Store is the single owner of one template's sections and fields. Entities
// live in flat maps; order lives only in the id lists, one for the sections
// and one per section for its fields.
type Store struct {
	mu sync.Mutex

	backend    Backend
	templateID uuid.UUID
	template   model.Template

	sections     map[uuid.UUID]*model.Section
	fields       map[uuid.UUID]*model.Field
	sectionOrder []uuid.UUID
	fieldOrder   map[uuid.UUID][]uuid.UUID

	// generation counts local reorders per scope (template or section id).
	generation map[uuid.UUID]uint64

	// patchGeneration counts optimistic patches per field.
	patchGeneration map[uuid.UUID]uint64

	pending        sync.WaitGroup
	persistTimeout time.Duration
	notify         Notifier
	logger         *zap.Logger
}

type Option func(*Store)

func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notify = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPersistTimeout bounds every background persistence call.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) { s.persistTimeout = d }
}

func NewStore(backend Backend, templateID uuid.UUID, opts ...Option) *Store {
	s := &Store{
		backend:         backend,
		templateID:      templateID,
		sections:        make(map[uuid.UUID]*model.Section),
		fields:          make(map[uuid.UUID]*model.Field),
		fieldOrder:      make(map[uuid.UUID][]uuid.UUID),
		generation:      make(map[uuid.UUID]uint64),
		patchGeneration: make(map[uuid.UUID]uint64),
		persistTimeout:  15 * time.Second,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces local state with the server's document.
func (s *Store) Load(ctx context.Context) error {
	doc, err := s.backend.GetTemplate(ctx, s.templateID)
	if err != nil {
		return persistErr("load template", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.template = doc.Template
	s.sections = make(map[uuid.UUID]*model.Section, len(doc.Sections))
	s.fields = make(map[uuid.UUID]*model.Field)
	s.fieldOrder = make(map[uuid.UUID][]uuid.UUID, len(doc.Sections))
	s.sectionOrder = s.sectionOrder[:0]

	for _, sf := range doc.Sections {
		sec := sf.Section
		s.sections[sec.ID] = &sec
		s.sectionOrder = append(s.sectionOrder, sec.ID)

		ids := make([]uuid.UUID, 0, len(sf.Fields))
		for _, f := range sf.Fields {
			f := f
			s.fields[f.ID] = &f
			ids = append(ids, f.ID)
		}
		s.sortFields(ids)
		s.fieldOrder[sec.ID] = ids
	}
	s.sortSections(s.sectionOrder)
	return nil
}

// Wait blocks until every background persistence call has settled.
func (s *Store) Wait() {
	s.pending.Wait()
}

func (s *Store) TemplateID() uuid.UUID {
	return s.templateID
}

func (s *Store) Template() model.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template
}

// Sections returns copies of the sections in order.
func (s *Store) Sections() []model.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Section, 0, len(s.sectionOrder))
	for _, id := range s.sectionOrder {
		out = append(out, *s.sections[id])
	}
	return out
}

// Fields returns copies of one section's fields in order.
func (s *Store) Fields(sectionID uuid.UUID) []model.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fieldsLocked(sectionID)
}

func (s *Store) fieldsLocked(sectionID uuid.UUID) []model.Field {
	ids := s.fieldOrder[sectionID]
	out := make([]model.Field, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneField(*s.fields[id]))
	}
	return out
}

func (s *Store) Section(id uuid.UUID) (model.Section, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[id]
	if !ok {
		return model.Section{}, false
	}
	return *sec, true
}

func (s *Store) Field(id uuid.UUID) (model.Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fields[id]
	if !ok {
		return model.Field{}, false
	}
	return cloneField(*f), true
}

// Document returns the whole template as currently held.
func (s *Store) Document() model.TemplateDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := model.TemplateDocument{Template: s.template}
	for _, id := range s.sectionOrder {
		doc.Sections = append(doc.Sections, model.SectionWithFields{
			Section: *s.sections[id],
			Fields:  s.fieldsLocked(id),
		})
	}
	return doc
}

// SectionInput is what staff fill in to add a section.
type SectionInput struct {
	Title       string
	Description *string
	Required    bool
}

func (s *Store) CreateSection(ctx context.Context, in SectionInput) (model.Section, error) {
	if in.Title == "" {
		return model.Section{}, apperrors.NewValidation("titulo", "title is required")
	}

	s.mu.Lock()
	order := len(s.sectionOrder)
	s.mu.Unlock()

	created, err := s.backend.CreateSection(ctx, s.templateID, model.CreateSectionRequest{
		Title:       in.Title,
		Description: in.Description,
		Required:    in.Required,
		Order:       &order,
	})
	if err != nil {
		return model.Section{}, persistErr("create section", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sec := *created
	s.sectionOrder = insertOrdered(s.sectionOrder, sec.ID, sec.Order, s.sectionOrderOf, s.setSectionOrder)
	s.sections[sec.ID] = &sec
	if _, ok := s.fieldOrder[sec.ID]; !ok {
		s.fieldOrder[sec.ID] = nil
	}
	return sec, nil
}

func (s *Store) UpdateSection(ctx context.Context, id uuid.UUID, patch model.SectionPatch) (model.Section, error) {
	if _, ok := s.Section(id); !ok {
		return model.Section{}, apperrors.NewValidation("secao", "unknown section")
	}
	updated, err := s.backend.UpdateSection(ctx, id, patch)
	if err != nil {
		return model.Section{}, persistErr("update section", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sec := *updated
	if _, ok := s.sections[id]; !ok {
		// Deleted meanwhile; nothing to reconcile.
		return sec, nil
	}
	s.sections[id] = &sec
	s.sortSections(s.sectionOrder)
	return sec, nil
}

// DeleteSection removes an empty section. A section that still owns fields
// is rejected locally, before any remote call.
func (s *Store) DeleteSection(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.sections[id]; !ok {
		s.mu.Unlock()
		return apperrors.NewValidation("secao", "unknown section")
	}
	if len(s.fieldOrder[id]) > 0 {
		s.mu.Unlock()
		return apperrors.NewValidation("secao", "section not empty")
	}
	s.mu.Unlock()

	if err := s.backend.DeleteSection(ctx, id); err != nil {
		return persistErr("delete section", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectionOrder = removeID(s.sectionOrder, id)
	delete(s.sections, id)
	delete(s.fieldOrder, id)
	delete(s.generation, id)
	s.renumberSections()
	return nil
}

// FieldInput is what staff pick to add a field. Zero values take the
// registry defaults.
type FieldInput struct {
	Type        model.FieldType
	Label       string
	Placeholder *string
	HelpText    *string
	Required    bool
	Width       model.FieldWidth
	Options     []string
	SystemField *model.SystemField
}

var defaultChoiceOptions = []string{"Option 1", "Option 2"}

func (s *Store) CreateField(ctx context.Context, sectionID uuid.UUID, in FieldInput) (model.Field, error) {
	if !fieldtype.Valid(in.Type) {
		return model.Field{}, apperrors.NewValidation("tipo_campo", "unknown field type "+string(in.Type))
	}
	if in.SystemField != nil && !in.SystemField.Valid() {
		return model.Field{}, apperrors.NewValidation("campo_sistema", "unknown system field")
	}

	s.mu.Lock()
	if _, ok := s.sections[sectionID]; !ok {
		s.mu.Unlock()
		return model.Field{}, apperrors.NewValidation("secao", "unknown section")
	}
	label := in.Label
	if label == "" {
		var same []string
		for _, id := range s.fieldOrder[sectionID] {
			if f := s.fields[id]; f.Type == in.Type {
				same = append(same, f.Label)
			}
		}
		label = fieldtype.NextLabel(in.Type, same)
	}
	order := len(s.fieldOrder[sectionID])
	s.mu.Unlock()

	width := in.Width
	if width == "" {
		width = model.WidthFull
	}
	options := in.Options
	if fieldtype.IsChoice(in.Type) && len(options) == 0 {
		options = append([]string(nil), defaultChoiceOptions...)
	}

	created, err := s.backend.CreateField(ctx, sectionID, model.CreateFieldRequest{
		Type:        in.Type,
		Label:       label,
		Placeholder: in.Placeholder,
		HelpText:    in.HelpText,
		Required:    in.Required,
		Width:       width,
		Order:       &order,
		Options:     options,
		SystemField: in.SystemField,
	})
	if err != nil {
		return model.Field{}, persistErr("create field", err)
	}
	return s.insertField(*created), nil
}

func (s *Store) UpdateField(ctx context.Context, id uuid.UUID, patch model.FieldPatch) (model.Field, error) {
	if _, ok := s.Field(id); !ok {
		return model.Field{}, apperrors.NewValidation("campo", "unknown field")
	}
	updated, err := s.backend.UpdateField(ctx, id, patch)
	if err != nil {
		return model.Field{}, persistErr("update field", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := *updated
	if _, ok := s.fields[id]; ok {
		s.fields[id] = &f
		s.sortFields(s.fieldOrder[f.SectionID])
	}
	return cloneField(f), nil
}

func (s *Store) DeleteField(ctx context.Context, id uuid.UUID) error {
	f, ok := s.Field(id)
	if !ok {
		return apperrors.NewValidation("campo", "unknown field")
	}
	if err := s.backend.DeleteField(ctx, id); err != nil {
		return persistErr("delete field", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldOrder[f.SectionID] = removeID(s.fieldOrder[f.SectionID], id)
	delete(s.fields, id)
	delete(s.patchGeneration, id)
	s.renumberFields(f.SectionID)
	return nil
}

// DuplicateField clones a field, identity aside, at the end of its section.
func (s *Store) DuplicateField(ctx context.Context, id uuid.UUID) (model.Field, error) {
	if _, ok := s.Field(id); !ok {
		return model.Field{}, apperrors.NewValidation("campo", "unknown field")
	}
	created, err := s.backend.DuplicateField(ctx, id)
	if err != nil {
		return model.Field{}, persistErr("duplicate field", err)
	}
	return s.insertField(*created), nil
}

func (s *Store) insertField(f model.Field) model.Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	setOrder := func(id uuid.UUID, o int) { s.fields[id].Order = o }
	orderOf := func(id uuid.UUID) int { return s.fields[id].Order }
	s.fieldOrder[f.SectionID] = insertOrdered(s.fieldOrder[f.SectionID], f.ID, f.Order, orderOf, setOrder)
	s.fields[f.ID] = &f
	return cloneField(f)
}

func (s *Store) report(err error) {
	s.logger.Warn("background persistence failed", zap.Error(err))
	if s.notify != nil {
		s.notify(err)
	}
}

func (s *Store) sectionOrderOf(id uuid.UUID) int   { return s.sections[id].Order }
func (s *Store) setSectionOrder(id uuid.UUID, o int) { s.sections[id].Order = o }

func (s *Store) sortSections(ids []uuid.UUID) {
	sort.SliceStable(ids, func(i, j int) bool {
		return s.sections[ids[i]].Order < s.sections[ids[j]].Order
	})
}

func (s *Store) sortFields(ids []uuid.UUID) {
	sort.SliceStable(ids, func(i, j int) bool {
		return s.fields[ids[i]].Order < s.fields[ids[j]].Order
	})
}

func (s *Store) renumberSections() {
	for i, id := range s.sectionOrder {
		s.sections[id].Order = i
	}
}

func (s *Store) renumberFields(sectionID uuid.UUID) {
	for i, id := range s.fieldOrder[sectionID] {
		s.fields[id].Order = i
	}
}

// insertOrdered puts id at position order (clamped) and shifts the order of
// every later sibling up by one, as the server does.
func insertOrdered(ids []uuid.UUID, id uuid.UUID, order int, orderOf func(uuid.UUID) int, setOrder func(uuid.UUID, int)) []uuid.UUID {
	pos := len(ids)
	for i, other := range ids {
		if orderOf(other) >= order {
			pos = i
			break
		}
	}
	for _, other := range ids[pos:] {
		setOrder(other, orderOf(other)+1)
	}
	ids = append(ids, uuid.Nil)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	return ids
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, other := range ids {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

func cloneField(f model.Field) model.Field {
	if f.Options != nil {
		f.Options = append(f.Options[:0:0], f.Options...)
	}
	return f
}

func persistErr(op string, err error) error {
	var perr *apperrors.PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	var verr *apperrors.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &apperrors.PersistenceError{Op: op, Err: err}
}
