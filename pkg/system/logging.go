// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDKey is the gin context key of the request id.
const RequestIDKey = "requestID"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback logger.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// GetRequestID returns the id assigned by RequestID, or "" outside of a request.
func GetRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(RequestIDKey)
}

// RequestID assigns every request an id and a logger annotated with it.
// A well-formed UUID sent by the client (or a proxy) in X-Request-Id is
// kept, anything else is replaced.
func RequestID(log *zap.SugaredLogger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Set(ReqLoggerKey, log.With("requestId", id, "clientIP", c.ClientIP()))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// NewLogger builds the process logger: development encoding at debug level
// when debug is set, JSON production logging otherwise.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var zlog *zap.Logger
	var err error
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		zlog, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return zlog.Sugar(), nil
}
