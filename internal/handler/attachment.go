package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"picvault/internal/attachment"
	"picvault/internal/repository"
	"picvault/internal/sizespec"
	"picvault/internal/variant"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type attachmentResponse struct {
	*attachment.Attachment
	URL         string            `json:"url"`
	Variants    map[string]string `json:"variants"`
	FailedSizes []string          `json:"failed_sizes,omitempty"`
}

func (h *Handler) present(a *attachment.Attachment, err error) attachmentResponse {
	resp := attachmentResponse{
		Attachment: a,
		URL:        h.namer.RelativeURL(a.Identity(), a.Extension, ""),
		Variants:   map[string]string{},
	}
	for _, spec := range a.Specs() {
		if spec.Token == "" {
			continue
		}
		resp.Variants[spec.Token] = h.namer.RelativeURL(a.Identity(), a.Extension, spec.Token)
	}

	var verr *variant.VariantError
	if errors.As(err, &verr) {
		resp.FailedSizes = verr.Tokens()
	}
	return resp
}

func (h *Handler) load(c echo.Context) (*attachment.Attachment, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return nil, c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid attachment ID"})
	}

	a, err := h.repo.Get(c.Request().Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment not found"})
	}
	if err != nil {
		h.log.Error("Failed to load attachment", zap.Int64("attachment_id", id), zap.Error(err))
		return nil, c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load attachment"})
	}
	return a, nil
}

func validateSizes(tokens []string) error {
	for _, token := range tokens {
		if err := sizespec.Validate(token); err != nil {
			return err
		}
	}
	return nil
}

// ListAttachments lists attachments, optionally filtered by kind and owner
func (h *Handler) ListAttachments(c echo.Context) error {
	filter := repository.Filter{
		Kind:  c.QueryParam("kind"),
		Owner: attachment.Owner{Type: c.QueryParam("owner_type"), ID: c.QueryParam("owner_id")},
		Limit: defaultPageSize,
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		filter.Limit = min(n, maxPageSize)
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid offset"})
		}
		filter.Offset = n
	}

	items, err := h.repo.List(c.Request().Context(), filter)
	if err != nil {
		h.log.Error("Failed to list attachments", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list attachments"})
	}

	resp := make([]attachmentResponse, 0, len(items))
	for _, a := range items {
		resp = append(resp, h.present(a, nil))
	}
	return c.JSON(http.StatusOK, resp)
}

// ImportAttachment ingests a file that already sits in the import directory
func (h *Handler) ImportAttachment(c echo.Context) error {
	var req struct {
		Path       string   `json:"path"`
		Kind       string   `json:"kind"`
		OwnerType  string   `json:"owner_type"`
		OwnerID    string   `json:"owner_id"`
		Sizes      []string `json:"sizes"`
		KeepSource *bool    `json:"keep_source"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path is required"})
	}
	if err := validateSizes(req.Sizes); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	profile := h.cfg.Profile(req.Kind)
	if req.Sizes != nil {
		profile.Sizes = req.Sizes
	}
	if req.KeepSource != nil {
		profile.KeepSource = *req.KeepSource
	}

	// rooted clean keeps the path inside the import directory
	src := filepath.Join(h.cfg.ImportDir, filepath.Clean("/"+req.Path))

	a := attachment.New(req.Kind, profile)
	a.Owner = attachment.Owner{Type: req.OwnerType, ID: req.OwnerID}
	if err := a.AddFile(h.fs, src); err != nil {
		if errors.Is(err, attachment.ErrNoSourceFile) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Source file not found"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	err := h.repo.Create(c.Request().Context(), a)
	var verr *variant.VariantError
	if err != nil && !errors.As(err, &verr) {
		h.log.Error("Failed to import attachment", zap.String("path", src), zap.Error(err))
		if errors.Is(err, attachment.ErrNoSourceFile) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Source file not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to store attachment"})
	}

	return c.JSON(http.StatusCreated, h.present(a, err))
}

// GetAttachment returns metadata and URLs of an attachment
func (h *Handler) GetAttachment(c echo.Context) error {
	a, err := h.load(c)
	if a == nil {
		return err
	}
	return c.JSON(http.StatusOK, h.present(a, nil))
}

// DownloadAttachment serves the original, or the variant named by ?size=
func (h *Handler) DownloadAttachment(c echo.Context) error {
	a, err := h.load(c)
	if a == nil {
		return err
	}

	path := h.manager.OriginalPath(a)
	if token := c.QueryParam("size"); token != "" {
		declared := false
		for _, s := range a.Sizes {
			if s == token {
				declared = true
				break
			}
		}
		if !declared {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Size not declared for attachment"})
		}
		path = h.manager.VariantPath(a, token)
	}

	file, err := h.fs.Open(path)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "File not found"})
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to read file"})
	}

	if a.FileType != "" {
		c.Response().Header().Set(echo.HeaderContentType, a.FileType)
	}
	http.ServeContent(c.Response(), c.Request(), filepath.Base(path), info.ModTime(), file)
	return nil
}

// UpdateAttachment changes the owner or size policy. The stored file itself cannot be replaced.
func (h *Handler) UpdateAttachment(c echo.Context) error {
	var req struct {
		Path            *string  `json:"path"`
		OwnerType       *string  `json:"owner_type"`
		OwnerID         *string  `json:"owner_id"`
		Sizes           []string `json:"sizes"`
		OriginalMaxSize *string  `json:"original_max_size"`
		AllowUpscale    *bool    `json:"allow_upscale"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	tokens := req.Sizes
	if req.OriginalMaxSize != nil && *req.OriginalMaxSize != "" {
		tokens = append(append([]string(nil), tokens...), *req.OriginalMaxSize)
	}
	if err := validateSizes(tokens); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	a, err := h.load(c)
	if a == nil {
		return err
	}

	previous := a.Sizes
	if req.Path != nil {
		a.SourcePath = *req.Path
	}
	if req.OwnerType != nil {
		a.Owner.Type = *req.OwnerType
	}
	if req.OwnerID != nil {
		a.Owner.ID = *req.OwnerID
	}
	if req.Sizes != nil {
		a.Sizes = req.Sizes
	}
	if req.OriginalMaxSize != nil {
		a.OriginalMaxSize = *req.OriginalMaxSize
	}
	if req.AllowUpscale != nil {
		a.AllowUpscale = *req.AllowUpscale
	}

	ctx := c.Request().Context()
	if err := h.repo.Update(ctx, a); err != nil {
		if errors.Is(err, attachment.ErrPayloadImmutable) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Attachment not found"})
		}
		h.log.Error("Failed to update attachment", zap.Int64("attachment_id", a.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update attachment"})
	}

	h.manager.Prune(a, previous)
	// newly declared sizes are rendered right away
	_, err = h.manager.Backfill(ctx, a)
	if err != nil {
		h.log.Warn("Backfill after update incomplete", zap.Int64("attachment_id", a.ID), zap.Error(err))
	}
	return c.JSON(http.StatusOK, h.present(a, err))
}

// RegenerateAttachment re-renders every declared size from the stored original
func (h *Handler) RegenerateAttachment(c echo.Context) error {
	a, err := h.load(c)
	if a == nil {
		return err
	}

	err = h.manager.Regenerate(c.Request().Context(), a)
	var verr *variant.VariantError
	switch {
	case errors.Is(err, attachment.ErrNotIngested):
		return c.JSON(http.StatusConflict, map[string]string{"error": "Original file is missing"})
	case err != nil && !errors.As(err, &verr):
		h.log.Error("Failed to regenerate attachment", zap.Int64("attachment_id", a.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to regenerate attachment"})
	}
	return c.JSON(http.StatusOK, h.present(a, err))
}

// DeleteAttachment removes the attachment and all its files
func (h *Handler) DeleteAttachment(c echo.Context) error {
	a, err := h.load(c)
	if a == nil {
		return err
	}

	if err := h.repo.Delete(c.Request().Context(), a); err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.log.Error("Failed to delete attachment", zap.Int64("attachment_id", a.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete attachment"})
	}
	return c.NoContent(http.StatusNoContent)
}
