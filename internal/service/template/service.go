package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jwalitptl/anamnesis-api/internal/fieldtype"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
)

type TemplateService interface {
	CreateTemplate(ctx context.Context, req *model.CreateTemplateRequest) (*model.Template, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*model.TemplateDocument, error)
	UpdateTemplate(ctx context.Context, id uuid.UUID, req *model.UpdateTemplateRequest) (*model.Template, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	ListTemplates(ctx context.Context, activeOnly bool) ([]*model.Template, error)
	Snapshot(ctx context.Context, id uuid.UUID) (*model.Template, model.TemplateSnapshot, error)

	CreateSection(ctx context.Context, templateID uuid.UUID, req *model.CreateSectionRequest) (*model.Section, error)
	UpdateSection(ctx context.Context, id uuid.UUID, patch *model.SectionPatch) (*model.Section, error)
	DeleteSection(ctx context.Context, id uuid.UUID) error
	ReorderSections(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) ([]*model.Section, error)

	CreateField(ctx context.Context, sectionID uuid.UUID, req *model.CreateFieldRequest) (*model.Field, error)
	UpdateField(ctx context.Context, id uuid.UUID, patch *model.FieldPatch) (*model.Field, error)
	DeleteField(ctx context.Context, id uuid.UUID) error
	DuplicateField(ctx context.Context, id uuid.UUID) (*model.Field, error)
	ReorderFields(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) ([]*model.Field, error)
}

type Service struct {
	templates repository.TemplateRepository
	sections  repository.SectionRepository
	fields    repository.FieldRepository
	anamneses repository.AnamnesisRepository
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewService(
	templates repository.TemplateRepository,
	sections repository.SectionRepository,
	fields repository.FieldRepository,
	anamneses repository.AnamnesisRepository,
	m *metrics.Metrics,
	log *logger.Logger,
) *Service {
	return &Service{
		templates: templates,
		sections:  sections,
		fields:    fields,
		anamneses: anamneses,
		metrics:   m,
		logger:    log,
	}
}

func (s *Service) CreateTemplate(ctx context.Context, req *model.CreateTemplateRequest) (*model.Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("nome is required", nil)
	}
	t := &model.Template{
		Base:     model.Base{ID: uuid.New()},
		Name:     name,
		Category: req.Category,
		Active:   true,
		Version:  1,
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	s.mutated("create_template")
	return t, nil
}

// GetTemplate returns the template with its sections and fields sorted by ordem.
func (s *Service) GetTemplate(ctx context.Context, id uuid.UUID) (*model.TemplateDocument, error) {
	t, err := s.getTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	sections, err := s.document(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.TemplateDocument{Template: *t, Sections: sections}, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id uuid.UUID, req *model.UpdateTemplateRequest) (*model.Template, error) {
	t, err := s.getTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("nome cannot be empty", nil)
		}
		t.Name = name
	}
	if req.Category != nil {
		t.Category = *req.Category
	}
	if req.Active != nil {
		t.Active = *req.Active
	}
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, s.repoErr("template", err)
	}
	return t, nil
}

// DeleteTemplate refuses templates that were already dispatched.
func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getTemplate(ctx, id); err != nil {
		return err
	}
	n, err := s.anamneses.CountByTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count anamneses: %w", err)
	}
	if n > 0 {
		return apperrors.NewConflict("template has anamneses")
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return s.repoErr("template", err)
	}
	s.mutated("delete_template")
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, activeOnly bool) ([]*model.Template, error) {
	templates, err := s.templates.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// Snapshot copies the current structure of a template for dispatch.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID) (*model.Template, model.TemplateSnapshot, error) {
	doc, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, model.TemplateSnapshot{}, err
	}
	return &doc.Template, model.TemplateSnapshot{
		Name:     doc.Template.Name,
		Category: doc.Template.Category,
		Version:  doc.Template.Version,
		Sections: doc.Sections,
	}, nil
}

func (s *Service) CreateSection(ctx context.Context, templateID uuid.UUID, req *model.CreateSectionRequest) (*model.Section, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("titulo is required", nil)
	}
	if _, err := s.getTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	siblings, err := s.sections.ListByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}

	section := &model.Section{
		Base:        model.Base{ID: uuid.New()},
		TemplateID:  templateID,
		Title:       title,
		Description: req.Description,
		Required:    req.Required,
		Order:       insertPosition(req.Order, len(siblings)),
	}
	if err := s.sections.Insert(ctx, section); err != nil {
		return nil, s.repoErr("template", err)
	}
	s.touch(ctx, templateID, "create_section")
	return section, nil
}

func (s *Service) UpdateSection(ctx context.Context, id uuid.UUID, patch *model.SectionPatch) (*model.Section, error) {
	section, err := s.sections.Get(ctx, id)
	if err != nil {
		return nil, s.repoErr("section", err)
	}
	patch.Apply(section)
	if strings.TrimSpace(section.Title) == "" {
		return nil, apperrors.NewBadRequest("titulo cannot be empty", nil)
	}
	if err := s.sections.Update(ctx, section); err != nil {
		return nil, s.repoErr("section", err)
	}
	s.touch(ctx, section.TemplateID, "update_section")
	return section, nil
}

// DeleteSection refuses sections that still own fields.
func (s *Service) DeleteSection(ctx context.Context, id uuid.UUID) error {
	section, err := s.sections.Get(ctx, id)
	if err != nil {
		return s.repoErr("section", err)
	}
	n, err := s.fields.CountBySection(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count fields: %w", err)
	}
	if n > 0 {
		return apperrors.NewConflict("section has fields")
	}
	if err := s.sections.Delete(ctx, id); err != nil {
		return s.repoErr("section", err)
	}
	s.touch(ctx, section.TemplateID, "delete_section")
	return nil
}

func (s *Service) ReorderSections(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) ([]*model.Section, error) {
	if _, err := s.getTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	current, err := s.sections.ListByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	ids := make([]uuid.UUID, len(current))
	for i, sec := range current {
		ids[i] = sec.ID
	}
	if err := validatePermutation(ids, items); err != nil {
		s.metrics.Reorders.WithLabelValues("sections", "rejected").Inc()
		return nil, err
	}
	if err := s.sections.Reorder(ctx, templateID, items); err != nil {
		s.metrics.Reorders.WithLabelValues("sections", "failed").Inc()
		return nil, s.repoErr("section", err)
	}
	s.metrics.Reorders.WithLabelValues("sections", "ok").Inc()
	s.touch(ctx, templateID, "reorder_sections")
	return s.sections.ListByTemplate(ctx, templateID)
}

func (s *Service) CreateField(ctx context.Context, sectionID uuid.UUID, req *model.CreateFieldRequest) (*model.Field, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, s.repoErr("section", err)
	}
	siblings, err := s.fields.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	field := &model.Field{
		Base:        model.Base{ID: uuid.New()},
		SectionID:   sectionID,
		Type:        req.Type,
		Label:       strings.TrimSpace(req.Label),
		Placeholder: req.Placeholder,
		HelpText:    req.HelpText,
		Required:    req.Required,
		Width:       req.Width,
		Options:     pq.StringArray(req.Options),
		SystemField: req.SystemField,
		Order:       insertPosition(req.Order, len(siblings)),
	}
	if field.Width == "" {
		field.Width = model.WidthFull
	}
	if field.SystemField != nil && *field.SystemField == "" {
		field.SystemField = nil
	}
	if field.Label == "" {
		var labels []string
		for _, f := range siblings {
			if f.Type == field.Type {
				labels = append(labels, f.Label)
			}
		}
		field.Label = fieldtype.NextLabel(field.Type, labels)
	}
	if err := validateField(field); err != nil {
		return nil, err
	}

	if err := s.fields.Insert(ctx, field); err != nil {
		return nil, s.repoErr("section", err)
	}
	s.touch(ctx, section.TemplateID, "create_field")
	return field, nil
}

func (s *Service) UpdateField(ctx context.Context, id uuid.UUID, patch *model.FieldPatch) (*model.Field, error) {
	field, err := s.fields.Get(ctx, id)
	if err != nil {
		return nil, s.repoErr("field", err)
	}
	patch.Apply(field)
	if err := validateField(field); err != nil {
		return nil, err
	}
	if err := s.fields.Update(ctx, field); err != nil {
		return nil, s.repoErr("field", err)
	}
	s.touchSection(ctx, field.SectionID, "update_field")
	return field, nil
}

func (s *Service) DeleteField(ctx context.Context, id uuid.UUID) error {
	field, err := s.fields.Get(ctx, id)
	if err != nil {
		return s.repoErr("field", err)
	}
	if err := s.fields.Delete(ctx, id); err != nil {
		return s.repoErr("field", err)
	}
	s.touchSection(ctx, field.SectionID, "delete_field")
	return nil
}

// DuplicateField appends a copy of the field at the end of its section.
func (s *Service) DuplicateField(ctx context.Context, id uuid.UUID) (*model.Field, error) {
	src, err := s.fields.Get(ctx, id)
	if err != nil {
		return nil, s.repoErr("field", err)
	}
	n, err := s.fields.CountBySection(ctx, src.SectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count fields: %w", err)
	}

	dup := *src
	dup.Base = model.Base{ID: uuid.New()}
	dup.Order = n
	dup.Options = append(pq.StringArray(nil), src.Options...)
	if src.SystemField != nil {
		sf := *src.SystemField
		dup.SystemField = &sf
	}
	if err := s.fields.Insert(ctx, &dup); err != nil {
		return nil, s.repoErr("section", err)
	}
	s.touchSection(ctx, src.SectionID, "duplicate_field")
	return &dup, nil
}

func (s *Service) ReorderFields(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) ([]*model.Field, error) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		return nil, s.repoErr("section", err)
	}
	current, err := s.fields.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	ids := make([]uuid.UUID, len(current))
	for i, f := range current {
		ids[i] = f.ID
	}
	if err := validatePermutation(ids, items); err != nil {
		s.metrics.Reorders.WithLabelValues("fields", "rejected").Inc()
		return nil, err
	}
	if err := s.fields.Reorder(ctx, sectionID, items); err != nil {
		s.metrics.Reorders.WithLabelValues("fields", "failed").Inc()
		return nil, s.repoErr("field", err)
	}
	s.metrics.Reorders.WithLabelValues("fields", "ok").Inc()
	s.touch(ctx, section.TemplateID, "reorder_fields")
	return s.fields.ListBySection(ctx, sectionID)
}

func (s *Service) getTemplate(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	t, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, s.repoErr("template", err)
	}
	return t, nil
}

func (s *Service) document(ctx context.Context, templateID uuid.UUID) ([]model.SectionWithFields, error) {
	sections, err := s.sections.ListByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	fields, err := s.fields.ListByTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	bySection := make(map[uuid.UUID][]model.Field, len(sections))
	for _, f := range fields {
		bySection[f.SectionID] = append(bySection[f.SectionID], *f)
	}
	out := make([]model.SectionWithFields, 0, len(sections))
	for _, sec := range sections {
		fs := bySection[sec.ID]
		if fs == nil {
			fs = []model.Field{}
		}
		out = append(out, model.SectionWithFields{Section: *sec, Fields: fs})
	}
	return out, nil
}

// touch bumps the template version after a structural change. A failed bump
// does not undo the change; it is logged.
func (s *Service) touch(ctx context.Context, templateID uuid.UUID, op string) {
	if err := s.templates.BumpVersion(ctx, templateID); err != nil {
		s.logger.Error(err, "failed to bump template version", "template_id", templateID.String(), "operation", op)
	}
	s.mutated(op)
}

func (s *Service) touchSection(ctx context.Context, sectionID uuid.UUID, op string) {
	section, err := s.sections.Get(ctx, sectionID)
	if err != nil {
		s.logger.Error(err, "failed to resolve section template", "section_id", sectionID.String(), "operation", op)
		s.mutated(op)
		return
	}
	s.touch(ctx, section.TemplateID, op)
}

func (s *Service) mutated(op string) {
	s.metrics.TemplateMutations.WithLabelValues(op).Inc()
}

func (s *Service) repoErr(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, err)
	}
	return apperrors.NewInternal(err)
}

// insertPosition clamps a requested ordem to [0, n]; absent means append.
func insertPosition(requested *int, n int) int {
	if requested == nil || *requested > n {
		return n
	}
	if *requested < 0 {
		return 0
	}
	return *requested
}

func validateField(f *model.Field) error {
	if !fieldtype.Valid(f.Type) {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown tipo_campo %q", f.Type), nil)
	}
	if strings.TrimSpace(f.Label) == "" {
		return apperrors.NewBadRequest("label cannot be empty", nil)
	}
	switch f.Width {
	case model.WidthFull, model.WidthHalf, model.WidthThird:
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("unknown largura %q", f.Width), nil)
	}
	if fieldtype.IsChoice(f.Type) {
		var kept []string
		for _, o := range f.Options {
			if strings.TrimSpace(o) != "" {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			return apperrors.NewBadRequest("choice fields require opcoes", nil)
		}
		f.Options = kept
	}
	if f.SystemField != nil && !f.SystemField.Valid() {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown campo_sistema %q", *f.SystemField), nil)
	}
	return nil
}

// validatePermutation checks that items assign every current id exactly one
// position in 0..N-1.
func validatePermutation(current []uuid.UUID, items []model.OrderItem) error {
	if len(items) != len(current) {
		return apperrors.NewBadRequest(fmt.Sprintf("reorder must list all %d items", len(current)), nil)
	}
	known := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		known[id] = false
	}
	positions := make([]bool, len(current))
	for _, it := range items {
		seen, ok := known[it.ID]
		if !ok {
			return apperrors.NewBadRequest(fmt.Sprintf("unknown id %s", it.ID), nil)
		}
		if seen {
			return apperrors.NewBadRequest(fmt.Sprintf("duplicate id %s", it.ID), nil)
		}
		if it.Order < 0 || it.Order >= len(current) || positions[it.Order] {
			return apperrors.NewBadRequest(fmt.Sprintf("ordem %d is out of range or repeated", it.Order), nil)
		}
		known[it.ID] = true
		positions[it.Order] = true
	}
	return nil
}
