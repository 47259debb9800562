package handler

import (
	"errors"
	"net/http"

	"picvault/internal/backup"

	"github.com/labstack/echo/v4"
)

// RunBackup archives the database and public tree and uploads it to the target in the path
func (h *Handler) RunBackup(c echo.Context) error {
	if h.backup == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Backup not configured"})
	}

	target := c.Param("target")
	name, err := h.backup.Run(c.Request().Context(), target)
	if errors.Is(err, backup.ErrUnknownTarget) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "backup successful", "file": name})
}
