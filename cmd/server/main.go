package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"syscall"

	route "github.com/bassista/go_leaf/internal/api/route"
	appctx "github.com/bassista/go_leaf/internal/app"
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/bassista/go_leaf/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/gogpu/gg"

	"github.com/enrichman/httpgrace"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logger.WithComponent("main").Warnf("cannot read .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithComponent("main").Fatalf("configuration error: %v", err)
	}

	if err := logger.Configure(cfg.Misc.LogLevel, cfg.Misc.LogFormat); err != nil {
		logger.WithComponent("main").Warnf("invalid log settings, using defaults: %v", err)
	}
	gg.SetLogger(logger.Slog())
	logger.WithComponent("main").Debugf("log level set to: %s", logger.Logger.GetLevel())
	logger.WithComponent("main").Infof("App will run on port: %d", cfg.Server.Port)

	repo, err := repository.NewRepositoryFromConfig(cfg.Data.RepositoryType, cfg.Data.FilePath)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init repository: %v", err)
	}

	app, err := appctx.New(cfg, repo)
	if err != nil {
		logger.WithComponent("main").Fatalf("cannot init app: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.WithComponent("main").Errorf("shutdown: %v", err)
		}
	}()

	if err := app.StartWatchers(); err != nil {
		logger.WithComponent("main").Errorf("cannot start watchers: %v", err)
		return
	}

	gin.SetMode(cfg.Misc.GinMode)
	gin.DefaultWriter = logger.Writer()
	gin.DefaultErrorWriter = logger.Writer()

	r := route.SetupRoutes(app, logger.Logger)
	srv := createGraceHttpServer(app.BaseCtx, "main-server", cfg.Server, r)

	if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithComponent("main").Error(err)
	}
}

func createGraceHttpServer(ctx context.Context, name string, serverConfig config.ServerConfig, r *gin.Engine) *httpgrace.Server {
	srv := httpgrace.NewServer(r,
		httpgrace.WithTimeout(serverConfig.ShutDownTimeout),
		httpgrace.WithSignals(syscall.SIGTERM, syscall.SIGINT),
		httpgrace.WithLogger(logger.Slog()),
		httpgrace.WithBeforeShutdown(func() {
			logger.WithComponent("http").Infof("Shutting down %s server....", name)
		}),
		httpgrace.WithServerOptions(
			httpgrace.WithReadTimeout(serverConfig.ReadTimeout),
			httpgrace.WithWriteTimeout(serverConfig.WriteTimeout),
			httpgrace.WithIdleTimeout(serverConfig.IdleTimeout),
			func(srv *http.Server) {
				srv.BaseContext = func(_ net.Listener) context.Context {
					return ctx
				}
			},
			func(srv *http.Server) {
				srv.ErrorLog = log.New(logger.Writer(), fmt.Sprintf("[%s] ", name), log.LstdFlags)
			},
		),
	)
	return srv
}
