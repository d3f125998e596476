package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitegen/internal/config"
	"sitegen/internal/handler"
	"sitegen/internal/metrics"
	"sitegen/internal/model"
	"sitegen/internal/service"
	"sitegen/internal/storage"
	"sitegen/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation backend and the workspace API",
	Long: `Starts the HTTP server.

The generation backend (/generate, /generate/stream, /refine) is served when a
model provider is configured. The workspace API under /api/workspace drives a
generation session against backend.base_url, which may be this same server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, os.Stdout)
		if err != nil {
			return err
		}
		noBackend, _ := cmd.Flags().GetBool("no-backend")

		var siteHandler *handler.SiteHandler
		if !noBackend {
			chat, err := model.NewChatModel(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			sites := service.NewSiteService(chat, chat.Name, cfg.Generation)
			defer sites.Close()
			siteHandler = handler.NewSiteHandler(sites, 0)
		}

		store, err := storage.New(cfg.Export)
		if err != nil {
			return err
		}
		defer store.Close()

		sv := newSupervisor(cfg)
		wsHandler := handler.NewWorkspaceHandler(sv, store, cfg.Export.Filename, 0)

		router := setupRouter(cfg, siteHandler, wsHandler)
		server := &http.Server{
			Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Infof("Server listening on port %d", cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrors <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server failed: %w", err)
		case <-quit:
		}

		logger.Info("Shutting down server...")
		sv.CancelActive()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Errorf("Server shutdown failed: %v", err)
			return server.Close()
		}
		logger.Info("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-backend", false, "Serve only the workspace API against an external backend")
}

func setupRouter(cfg *config.Config, site *handler.SiteHandler, ws *handler.WorkspaceHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"workspace": ws != nil,
			"backend":   site != nil,
		})
	})

	if cfg.Metrics.Enabled {
		metrics.Register(prometheus.DefaultRegisterer)
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	handler.RegisterRoutes(router, site, ws)
	return router
}
