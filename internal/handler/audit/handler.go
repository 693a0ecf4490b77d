package audit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit")
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/stats", h.GetStats)
	}
}

// ListLogs filters by action, batch_id, actor_id and a start/end window.
func (h *Handler) ListLogs(c *gin.Context) {
	filters := model.AuditFilters{
		Pagination: httputil.ParsePagination(c),
		Action:     c.Query("action"),
	}

	var err error
	if filters.BatchID, err = httputil.OptionalUUIDQuery(c, "batch_id"); err != nil {
		handler.RespondError(c, err)
		return
	}
	if filters.ActorID, err = httputil.OptionalUUIDQuery(c, "actor_id"); err != nil {
		handler.RespondError(c, err)
		return
	}
	if filters.StartDate, err = httputil.OptionalTimeQuery(c, "start"); err != nil {
		handler.RespondError(c, err)
		return
	}
	if filters.EndDate, err = httputil.OptionalTimeQuery(c, "end"); err != nil {
		handler.RespondError(c, err)
		return
	}

	logs, total, err := h.service.List(c.Request.Context(), &filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewPaginatedResponse(logs, filters.Pagination, total))
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
