package referral

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/service/referral"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

type Handler struct {
	service *referral.Service
}

func NewHandler(service *referral.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	referrals := r.Group("/referrals")
	{
		referrals.GET("", h.ListReferrals)
		referrals.POST("", h.IssueReferral)
		referrals.GET("/:id", h.GetReferral)
	}
}

func (h *Handler) ListReferrals(c *gin.Context) {
	filters := model.ReferralFilters{
		Pagination: httputil.ParsePagination(c),
		Status:     model.ReferralStatus(c.Query("status")),
		Search:     c.Query("search"),
	}

	codes, total, err := h.service.List(c.Request.Context(), &filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewPaginatedResponse(codes, filters.Pagination, total))
}

// IssueReferral answers 201 for a new code and 200 when the patient already holds one.
func (h *Handler) IssueReferral(c *gin.Context) {
	var req model.IssueReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	code, created, err := h.service.Issue(c.Request.Context(), handler.Actor(c), req.PatientID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, handler.NewSuccessResponse(code))
}

func (h *Handler) GetReferral(c *gin.Context) {
	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	code, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(code))
}
