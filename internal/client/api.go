package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/jwalitptl/anamnesis-api/internal/model"
	apperrors "github.com/jwalitptl/anamnesis-api/pkg/errors"
)

// API is the typed surface of the forms backend.
type API struct {
	t Transport
}

func NewAPI(t Transport) *API {
	return &API{t: t}
}

func (a *API) GetTemplate(ctx context.Context, templateID uuid.UUID) (*model.TemplateDocument, error) {
	var doc model.TemplateDocument
	if err := a.t.Do(ctx, http.MethodGet, fmt.Sprintf("/templates/%s", templateID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (a *API) CreateSection(ctx context.Context, templateID uuid.UUID, req model.CreateSectionRequest) (*model.Section, error) {
	var s model.Section
	if err := a.t.Do(ctx, http.MethodPost, fmt.Sprintf("/templates/%s/sections", templateID), req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) UpdateSection(ctx context.Context, sectionID uuid.UUID, patch model.SectionPatch) (*model.Section, error) {
	var s model.Section
	if err := a.t.Do(ctx, http.MethodPatch, fmt.Sprintf("/sections/%s", sectionID), patch, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (a *API) DeleteSection(ctx context.Context, sectionID uuid.UUID) error {
	return a.t.Do(ctx, http.MethodDelete, fmt.Sprintf("/sections/%s", sectionID), nil, nil)
}

func (a *API) ReorderSections(ctx context.Context, templateID uuid.UUID, items []model.OrderItem) ([]model.Section, error) {
	var out []model.Section
	if err := a.t.Do(ctx, http.MethodPatch, fmt.Sprintf("/templates/%s/sections/reorder", templateID), items, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateField(ctx context.Context, sectionID uuid.UUID, req model.CreateFieldRequest) (*model.Field, error) {
	var f model.Field
	if err := a.t.Do(ctx, http.MethodPost, fmt.Sprintf("/sections/%s/fields", sectionID), req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *API) UpdateField(ctx context.Context, fieldID uuid.UUID, patch model.FieldPatch) (*model.Field, error) {
	var f model.Field
	if err := a.t.Do(ctx, http.MethodPatch, fmt.Sprintf("/fields/%s", fieldID), patch, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *API) DeleteField(ctx context.Context, fieldID uuid.UUID) error {
	return a.t.Do(ctx, http.MethodDelete, fmt.Sprintf("/fields/%s", fieldID), nil, nil)
}

func (a *API) DuplicateField(ctx context.Context, fieldID uuid.UUID) (*model.Field, error) {
	var f model.Field
	if err := a.t.Do(ctx, http.MethodPost, fmt.Sprintf("/fields/%s/duplicate", fieldID), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *API) ReorderFields(ctx context.Context, sectionID uuid.UUID, items []model.OrderItem) ([]model.Field, error) {
	var out []model.Field
	if err := a.t.Do(ctx, http.MethodPatch, fmt.Sprintf("/sections/%s/fields/reorder", sectionID), items, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPublicAnamnesis loads a filling session by token. Unknown and expired
// tokens are reported as ErrInvalidOrExpiredLink.
func (a *API) GetPublicAnamnesis(ctx context.Context, token string) (*model.PublicAnamnesis, error) {
	var doc model.PublicAnamnesis
	err := a.t.Do(ctx, http.MethodGet, publicPath(token, ""), nil, &doc)
	if err != nil {
		switch StatusOf(err) {
		case http.StatusNotFound, http.StatusGone, http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidOrExpiredLink, err)
		}
		return nil, err
	}
	return &doc, nil
}

func (a *API) SaveDraft(ctx context.Context, token string, req model.DraftRequest) error {
	return a.t.Do(ctx, http.MethodPost, publicPath(token, "/draft"), req, nil)
}

func (a *API) Finalize(ctx context.Context, token string, req model.FinalizeRequest) error {
	return a.t.Do(ctx, http.MethodPost, publicPath(token, "/finalize"), req, nil)
}

func publicPath(token, suffix string) string {
	return "/public/anamnesis/" + url.PathEscape(token) + suffix
}
