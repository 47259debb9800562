package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"picvault/internal/app"
	"picvault/internal/config"
	"picvault/internal/handler"
	"picvault/internal/logger"
	"picvault/internal/metrics"
	authmw "picvault/internal/middleware"
	"picvault/internal/scheduler"
	"picvault/internal/version"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.DataDir, cfg.Debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := zap.L()

	log.Info("Starting picvault",
		zap.String("version", version.Version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("public_dir", cfg.PublicDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire storage, variants, lifecycle and database
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	// 4. Scheduler
	schedOpts := []scheduler.Option{scheduler.WithLogger(log.Named("scheduler"))}
	if cfg.BackupSchedule != "" {
		schedOpts = append(schedOpts, scheduler.WithBackup(a.Backup, cfg.BackupTarget))
	}
	sched := scheduler.New(a.Repo, a.Manager, schedOpts...)
	if err := sched.Start(cfg.SweepSchedule, cfg.BackupSchedule); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// 5. Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetOutput(logger.Writer())

	e.Use(middleware.RequestID())
	e.Use(authmw.RequestLogger(log.Named("http")))
	e.Use(metrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())
	e.Use(middleware.Gzip())

	h := handler.NewHandler(a.Repo, a.Manager, a.Namer, a.FS, cfg,
		handler.WithBackup(a.Backup),
		handler.WithLogger(log.Named("handler")),
	)
	h.Routes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Originals and variants are public at their relative URL
	e.Static("/"+a.Namer.Folder(), filepath.Join(a.Namer.Root(), a.Namer.Folder()))

	// 6. Serve until signalled
	go func() {
		log.Info("Server starting", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
