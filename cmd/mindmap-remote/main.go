package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mindmap/internal/adapters/metrics"
	"mindmap/internal/adapters/remote"
	"mindmap/internal/config"
)

func main() {
	listenFlag := flag.String("listen", config.ListenAddr(), "address to serve on")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()}))
	if config.LogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := remote.NewServer(remote.NewBackend(nil), metrics.New(), logger)
	httpServer := &http.Server{
		Addr:              *listenFlag,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("remote backend listening", "addr", *listenFlag)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("mindmap-remote: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("mindmap-remote: shutdown: %v", err)
	}
	logger.Info("remote backend stopped")
}
