// Package response is the JSON envelope every REST handler replies with.
// pkg/api mirrors the same shape on the client side; the two must stay in
// sync.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends a 400 with the error message.
func BadRequest(c *gin.Context, err string) {
	fail(c, http.StatusBadRequest, err)
}

// Unauthorized sends a 401: missing or invalid join token.
func Unauthorized(c *gin.Context, err string) {
	fail(c, http.StatusUnauthorized, err)
}

// Forbidden sends a 403: valid token, wrong session.
func Forbidden(c *gin.Context, err string) {
	fail(c, http.StatusForbidden, err)
}

// NotFound sends a 404.
func NotFound(c *gin.Context, err string) {
	fail(c, http.StatusNotFound, err)
}

// Conflict sends a 409: the resource exists in a state the request cannot
// apply to (incomplete upload, unstored recording).
func Conflict(c *gin.Context, err string) {
	fail(c, http.StatusConflict, err)
}

// Internal sends a 500. Handlers log the underlying error themselves; the
// body carries only a generic message.
func Internal(c *gin.Context, err string) {
	fail(c, http.StatusInternalServerError, err)
}

func fail(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Success: false, Error: err})
}
