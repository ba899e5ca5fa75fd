// Package devserver assembles a local stand-in for the push notifications
// device and reporting APIs.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-pushnotifications/devserver/config"
	"github.com/tinywideclouds/go-pushnotifications/internal/deviceapi"
	"github.com/tinywideclouds/go-pushnotifications/pkg/registry"
)

type Wrapper struct {
	*microservice.BaseServer
	Reports *deviceapi.ReportLog
	logger  *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	reg registry.DeviceRegistry,
	logger *slog.Logger,
) (*Wrapper, error) {
	if reg == nil {
		return nil, errors.New("device registry is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. APIs
	devices := deviceapi.NewDeviceAPI(reg, []byte(cfg.JWTSecret), logger)
	reports := deviceapi.NewReportLog(logger)

	// 3. Routes
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	deviceapi.Routes(baseServer.Mux(), devices, reports, func(h http.Handler) http.Handler {
		return corsMiddleware(h)
	})

	return &Wrapper{
		BaseServer: baseServer,
		Reports:    reports,
		logger:     logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("Service shutdown complete.")
	return nil
}
