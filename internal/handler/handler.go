package handler

import (
	"context"
	"net/http"

	"picvault/internal/attachment"
	"picvault/internal/config"
	authmw "picvault/internal/middleware"
	"picvault/internal/pathnamer"
	"picvault/internal/repository"
	"picvault/internal/storage"
	"picvault/internal/version"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Repository is the persistence the handlers need.
type Repository interface {
	Create(ctx context.Context, a *attachment.Attachment) error
	Update(ctx context.Context, a *attachment.Attachment) error
	Delete(ctx context.Context, a *attachment.Attachment) error
	Get(ctx context.Context, id int64) (*attachment.Attachment, error)
	List(ctx context.Context, f repository.Filter) ([]*attachment.Attachment, error)
}

// BackupRunner uploads an archive to a named target.
type BackupRunner interface {
	Run(ctx context.Context, target string) (string, error)
}

type Handler struct {
	repo    Repository
	manager *attachment.Manager
	namer   *pathnamer.Namer
	fs      *storage.FileSystem
	cfg     *config.Config
	backup  BackupRunner
	log     *zap.Logger
}

type Option func(*Handler)

func WithBackup(b BackupRunner) Option {
	return func(h *Handler) {
		h.backup = b
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(repo Repository, manager *attachment.Manager, namer *pathnamer.Namer, fs *storage.FileSystem, cfg *config.Config, opts ...Option) *Handler {
	h := &Handler{
		repo:    repo,
		manager: manager,
		namer:   namer,
		fs:      fs,
		cfg:     cfg,
		log:     zap.L(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the JSON API under /api.
func (h *Handler) Routes(e *echo.Echo) {
	api := e.Group("/api")

	// Public routes (no auth required)
	api.POST("/auth/login", h.Login)
	api.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.Get())
	})

	protected := api.Group("")
	protected.Use(authmw.JWTAuth([]byte(h.cfg.JWTSecret)))

	protected.GET("/attachments", h.ListAttachments)
	protected.POST("/attachments", h.ImportAttachment)
	protected.GET("/attachments/:id", h.GetAttachment)
	protected.GET("/attachments/:id/file", h.DownloadAttachment)
	protected.PATCH("/attachments/:id", h.UpdateAttachment)
	protected.POST("/attachments/:id/regenerate", h.RegenerateAttachment)
	protected.DELETE("/attachments/:id", h.DeleteAttachment)

	admin := protected.Group("/backup")
	admin.Use(authmw.AdminOnly())
	admin.POST("/:target", h.RunBackup)
}
