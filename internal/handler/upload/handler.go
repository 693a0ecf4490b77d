package upload

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/referral-api/internal/handler"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/service/upload"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/httputil"
)

const formFile = "file"

type Handler struct {
	service *upload.Service
}

func NewHandler(service *upload.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("", h.UploadCSV)
		uploads.POST("/json", h.UploadPayload)
		uploads.GET("", h.ListBatches)
		uploads.GET("/:id", h.GetBatch)
	}
}

// UploadCSV accepts a multipart CSV export under the "file" field.
func (h *Handler) UploadCSV(c *gin.Context) {
	fh, err := c.FormFile(formFile)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, handler.NewErrorResponse("upload too large"))
			return
		}
		handler.RespondError(c, apperrors.BadRequest("multipart field \"file\" is required", err))
		return
	}

	f, err := fh.Open()
	if err != nil {
		handler.RespondError(c, apperrors.BadRequest("could not read uploaded file", err))
		return
	}
	defer f.Close()

	batch, err := h.service.SubmitCSV(c.Request.Context(), handler.Actor(c), fh.Filename, f)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	respondBatch(c, batch)
}

// UploadPayload accepts rows that were already normalized by a client.
func (h *Handler) UploadPayload(c *gin.Context) {
	var payload model.CsvPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	batch, err := h.service.Submit(c.Request.Context(), handler.Actor(c), &payload)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	respondBatch(c, batch)
}

func (h *Handler) ListBatches(c *gin.Context) {
	filters := model.BatchFilters{
		Pagination: httputil.ParsePagination(c),
		Status:     model.BatchStatus(c.Query("status")),
	}

	batches, total, err := h.service.List(c.Request.Context(), &filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewPaginatedResponse(batches, filters.Pagination, total))
}

func (h *Handler) GetBatch(c *gin.Context) {
	id, err := httputil.UUIDParam(c, "id")
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	batch, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(batch))
}

// respondBatch answers 200 with counters once a batch has finished and 202 while it is queued.
func respondBatch(c *gin.Context, batch *model.UploadBatch) {
	if batch.Status.Finished() {
		c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
			"batch":  batch,
			"result": batch.Result(),
		}))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"batch": batch}))
}
