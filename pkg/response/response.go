package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/couponhub/backend/internal/apperr"
)

// Debug exposes wrapped causes in error bodies. Set from APP_DEBUG at startup.
var Debug bool

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	ErrorKind apperr.Kind `json:"errorKind,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 JSON response for queued work.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error renders err using its apperr kind. Unclassified errors become 500.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := Body{Success: false, Message: apperr.Message(err), ErrorKind: kind}
	if Debug {
		body.Detail = err.Error()
	}
	c.JSON(apperr.HTTPStatus(kind), body)
}

// BadRequest sends 400 with a validation message.
func BadRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, apperr.KindValidation, msg)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) {
	fail(c, http.StatusUnauthorized, apperr.KindUnauthorized, msg)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, msg string) {
	fail(c, http.StatusForbidden, apperr.KindForbidden, msg)
}

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) {
	fail(c, http.StatusNotFound, apperr.KindNotFound, msg)
}

// TooManyRequests sends 429.
func TooManyRequests(c *gin.Context, msg string) {
	fail(c, http.StatusTooManyRequests, apperr.KindLimitExceeded, msg)
}

// Internal sends 500.
func Internal(c *gin.Context, msg string) {
	fail(c, http.StatusInternalServerError, apperr.KindInternal, msg)
}

func fail(c *gin.Context, status int, kind apperr.Kind, msg string) {
	c.JSON(status, Body{Success: false, Message: msg, ErrorKind: kind})
}
