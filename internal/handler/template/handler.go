package template

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/anamnesis-api/internal/handler"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/service/template"
	"github.com/jwalitptl/anamnesis-api/pkg/httputil"
)

// Handler serves the structural builder routes: templates, sections, fields.
type Handler struct {
	service template.TemplateService
}

func NewHandler(service template.TemplateService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates")
	{
		templates.POST("", h.CreateTemplate)
		templates.GET("", h.ListTemplates)
		templates.GET("/:id", h.GetTemplate)
		templates.PATCH("/:id", h.UpdateTemplate)
		templates.DELETE("/:id", h.DeleteTemplate)

		templates.POST("/:id/sections", h.CreateSection)
		templates.PATCH("/:id/sections/reorder", h.ReorderSections)
	}

	sections := r.Group("/sections")
	{
		sections.PATCH("/:id", h.UpdateSection)
		sections.DELETE("/:id", h.DeleteSection)
		sections.POST("/:id/fields", h.CreateField)
		sections.PATCH("/:id/fields/reorder", h.ReorderFields)
	}

	fields := r.Group("/fields")
	{
		fields.PATCH("/:id", h.UpdateField)
		fields.DELETE("/:id", h.DeleteField)
		fields.POST("/:id/duplicate", h.DuplicateField)
	}
}

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req model.CreateTemplateRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	t, err := h.service.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, t)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context(), c.Query("ativo") == "true")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, templates)
}

func (h *Handler) GetTemplate(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	doc, err := h.service.GetTemplate(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, doc)
}

func (h *Handler) UpdateTemplate(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateTemplateRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	t, err := h.service.UpdateTemplate(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) DeleteTemplate(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) CreateSection(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.CreateSectionRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	section, err := h.service.CreateSection(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, section)
}

func (h *Handler) ReorderSections(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var items []model.OrderItem
	if !handler.BindJSON(c, &items) {
		return
	}
	sections, err := h.service.ReorderSections(c.Request.Context(), id, items)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sections)
}

func (h *Handler) UpdateSection(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var patch model.SectionPatch
	if !handler.BindJSON(c, &patch) {
		return
	}
	section, err := h.service.UpdateSection(c.Request.Context(), id, &patch)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, section)
}

func (h *Handler) DeleteSection(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteSection(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) CreateField(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.CreateFieldRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	field, err := h.service.CreateField(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, field)
}

func (h *Handler) ReorderFields(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var items []model.OrderItem
	if !handler.BindJSON(c, &items) {
		return
	}
	fields, err := h.service.ReorderFields(c.Request.Context(), id, items)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, fields)
}

func (h *Handler) UpdateField(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var patch model.FieldPatch
	if !handler.BindJSON(c, &patch) {
		return
	}
	field, err := h.service.UpdateField(c.Request.Context(), id, &patch)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, field)
}

func (h *Handler) DeleteField(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteField(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) DuplicateField(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	field, err := h.service.DuplicateField(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, field)
}
