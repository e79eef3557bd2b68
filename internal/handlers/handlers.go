// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package handlers contains the JSON endpoint handlers.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lunahealth/recovery/internal/services/recovery"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	recovery *recovery.Service
}

// New creates a new Handlers instance.
func New(svc *recovery.Service) *Handlers {
	return &Handlers{recovery: svc}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
