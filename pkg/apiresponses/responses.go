/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apiresponses

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Client-facing messages shared by several endpoints.
const (
	MsgUnauthorized    = "No autorizado"
	MsgTooManyRequests = "Demasiados intentos. Intenta más tarde."
	MsgInvalidJSON     = "JSON inválido"
	MsgPayloadTooLarge = "Solicitud demasiado grande"
	MsgNotFound        = "Ruta no encontrada"
)

// Response is the envelope returned by the relay endpoints.
// The signing form only reads Success and Message; Code is informational.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RespondSuccess sends a 200 OK response with a success message.
func RespondSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: message,
	})
}

// RespondBadRequest sends a 400 Bad Request response.
// Use this for malformed JSON or payloads that fail validation.
func RespondBadRequest(c *gin.Context, message, code string) {
	if code == "" {
		code = "BAD_REQUEST"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{
		Message: message,
		Code:    code,
	})
}

// RespondUnauthorized sends a 401 Unauthorized response.
// Use this when the shared secret header is missing or wrong.
func RespondUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Message: MsgUnauthorized,
		Code:    "UNAUTHORIZED",
	})
}

// RespondForbidden sends a 403 Forbidden response with an optional reason.
func RespondForbidden(c *gin.Context, reason string) {
	if reason == "" {
		reason = "access denied"
	}
	c.AbortWithStatusJSON(http.StatusForbidden, Response{
		Message: reason,
		Code:    "FORBIDDEN",
	})
}

// RespondNotFound sends a 404 Not Found response.
func RespondNotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, Response{
		Message: MsgNotFound,
		Code:    "NOT_FOUND",
	})
}

// RespondPayloadTooLarge sends a 413 response when the body exceeds the JSON limit.
func RespondPayloadTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, Response{
		Message: MsgPayloadTooLarge,
		Code:    "PAYLOAD_TOO_LARGE",
	})
}

// RespondTooManyRequests sends a 429 response. An empty message uses the default text.
func RespondTooManyRequests(c *gin.Context, message string) {
	if message == "" {
		message = MsgTooManyRequests
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
		Message: message,
		Code:    "RATE_LIMITED",
	})
}

// RespondInternalError sends a 500 Internal Server Error response.
// It logs the error with full details but returns a sanitized message to the client.
func RespondInternalError(c *gin.Context, message, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw(fmt.Sprintf("Failed to %s", operation), "error", err)
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
		Message: message,
		Code:    "INTERNAL_ERROR",
	})
}

// RespondServiceUnavailable sends a 503 Service Unavailable response.
// Use this when a required backend service is not available.
func RespondServiceUnavailable(c *gin.Context, service string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{
		Message: fmt.Sprintf("service unavailable: %s", service),
		Code:    "SERVICE_UNAVAILABLE",
	})
}

// RespondOK sends a 200 OK response with arbitrary data.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
