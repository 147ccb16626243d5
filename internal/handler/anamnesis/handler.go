package anamnesis

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/anamnesis-api/internal/handler"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/service/anamnesis"
	"github.com/jwalitptl/anamnesis-api/pkg/httputil"
)

type Handler struct {
	service anamnesis.AnamnesisService
}

func NewHandler(service anamnesis.AnamnesisService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the staff routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/templates/:id/anamnesis", h.Dispatch)
	r.GET("/anamnesis/:id", h.Get)
}

// RegisterPublicRoutes mounts the token-guarded patient routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	public := r.Group("/public/anamnesis")
	{
		public.GET("/:token", h.Load)
		public.POST("/:token/draft", h.SaveDraft)
		public.POST("/:token/finalize", h.Finalize)
	}
}

func (h *Handler) Dispatch(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	var req model.DispatchRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	res, err := h.service.Dispatch(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, res)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, detail)
}

func (h *Handler) Load(c *gin.Context) {
	doc, err := h.service.LoadPublic(c.Request.Context(), c.Param("token"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, doc)
}

func (h *Handler) SaveDraft(c *gin.Context) {
	var req model.DraftRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.SaveDraft(c.Request.Context(), c.Param("token"), &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}

func (h *Handler) Finalize(c *gin.Context) {
	var req model.FinalizeRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	if err := h.service.Finalize(c.Request.Context(), c.Param("token"), &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
