package conference

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-conferencing/core/internal/apperr"
	"github.com/aura-conferencing/core/internal/middleware"
	"github.com/aura-conferencing/core/pkg/response"
)

// Handler exposes the conference lifecycle as HTTP endpoints (spec §6):
// create, start, join, leave, end.
type Handler struct {
	svc *Service
}

// NewHandler builds a conference HTTP handler around svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createRequest struct {
	Subject           string `json:"subject" binding:"required"`
	AutoTranscription bool   `json:"auto_transcription"`
	TranscriptionModel string `json:"transcription_model"`
}

// Create handles POST /conferences.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	conf, err := h.svc.Create(c.Request.Context(), tenantID(c), req.Subject, userID(c), req.AutoTranscription, req.TranscriptionModel)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Created(c, conf)
}

// Get handles GET /conferences/:id.
func (h *Handler) Get(c *gin.Context) {
	conf, err := h.svc.repo.GetByID(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeErr(c, apperr.Wrap(apperr.NotFound, "conference not found", err))
		return
	}
	response.OK(c, conf)
}

// Start handles POST /conferences/:id/start.
func (h *Handler) Start(c *gin.Context) {
	caps, err := h.svc.Start(c.Request.Context(), tenantID(c), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, caps)
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

// Join handles POST /conferences/:id/join.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.Join(c.Request.Context(), tenantID(c), c.Param("id"), userID(c), req.DisplayName); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

// Leave handles POST /conferences/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context(), tenantID(c), c.Param("id"), userID(c)); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

// End handles POST /conferences/:id/end.
func (h *Handler) End(c *gin.Context) {
	if err := h.svc.End(c.Request.Context(), tenantID(c), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

// tenantID resolves the caller's tenant. Multi-tenant routing (e.g. a
// subdomain or an org-scoped API key) is an external collaborator's
// concern; this core only needs the tenant string to scope its own
// queries, so it accepts it as a header with a single-tenant fallback.
func tenantID(c *gin.Context) string {
	if t := c.GetHeader("X-Tenant-ID"); t != "" {
		return t
	}
	return "default"
}

func userID(c *gin.Context) string {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return ""
	}
	if id, ok := v.(uuid.UUID); ok {
		return id.String()
	}
	return ""
}

func writeErr(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.JSON(kind.HTTPStatus(), response.Body{Success: false, Error: err.Error()})
}
