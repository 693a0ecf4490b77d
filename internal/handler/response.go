package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/referral-api/internal/model"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

type Response struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Data       interface{}     `json:"data,omitempty"`
	Details    interface{}     `json:"details,omitempty"`
	Pagination *model.PageInfo `json:"pagination,omitempty"`
}

// FieldError is one failed binding rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewPaginatedResponse(data interface{}, page model.Pagination, total int64) *Response {
	info := model.NewPageInfo(page, total)
	return &Response{
		Status:     "success",
		Data:       data,
		Pagination: &info,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError writes err with the status its code maps to. Unknown errors become 500
// and their text is not sent to the client.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := apperrors.HTTPStatus(err)

	resp := NewErrorResponse("internal server error")
	if appErr, ok := apperrors.As(err); ok && status < http.StatusInternalServerError {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	c.AbortWithStatusJSON(status, resp)
}

// RespondBindError reports a request body or query that failed binding.
func RespondBindError(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)

	resp := NewErrorResponse("invalid request")
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{Field: fe.Field(), Message: describe(fe)})
		}
		resp.Details = details
	} else {
		resp.Message = "invalid request: " + err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
