package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"tilesmith/internal/httpapi"
	"tilesmith/internal/pkg/logger"
	"tilesmith/internal/pkg/shutdown"
)

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "tileserve",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	httpPort := getEnv("HTTP_PORT", "8080")
	root := getEnv("TILE_ROOT", "tiles")
	metaSize := getEnvInt(log, "META_SIZE", 8)

	log.Info("starting tile preview server",
		"root", root,
		"meta_size", metaSize,
	)

	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	router := httpapi.NewRouter(httpapi.Deps{
		Root:     root,
		MetaSize: metaSize,
		Log:      log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + httpPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}

// getEnvInt gets an integer environment variable or exits on garbage.
func getEnvInt(log *logger.Logger, key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.LogFatal("invalid integer environment variable", err, "key", key)
	}
	return n
}
