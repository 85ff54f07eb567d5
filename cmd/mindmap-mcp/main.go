package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	mcpadapter "mindmap/internal/adapters/mcp"
	"mindmap/internal/adapters/metrics"
	"mindmap/internal/config"
	"mindmap/internal/session"
)

func main() {
	dbFlag := flag.String("db", config.DatabasePath(), "path to the local store")
	remoteFlag := flag.String("remote", config.RemoteURL(), "base URL of the remote backend")
	mindmapFlag := flag.String("mindmap", config.MindmapID(), "ID of the mindmap to edit")
	createFlag := flag.Bool("create", false, "start a new mindmap when the remote has none")
	metricsFlag := flag.String("metrics", config.MetricsAddr(), "address to expose /metrics on (empty disables it)")
	flag.Parse()

	// Stdout carries the MCP stream
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()}))
	if err := config.Err(); err != nil {
		logger.Warn("ignoring config file", "path", config.File(), "error", err)
	}

	m := metrics.New()
	sess, err := session.Open(context.Background(), session.Options{
		DatabasePath:            *dbFlag,
		RemoteURL:               *remoteFlag,
		MindmapID:               *mindmapFlag,
		Logger:                  logger,
		Metrics:                 m,
		Create:                  *createFlag,
		HistoryLimit:            config.HistoryLimit(),
		SlowSubscriberThreshold: config.SlowSubscriberThreshold(),
	})
	if err != nil {
		log.Fatalf("mindmap-mcp: %v", err)
	}
	defer sess.Close()

	if *metricsFlag != "" {
		metricsServer := m.Server(*metricsFlag)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint stopped", "addr", *metricsFlag, "error", err)
			}
		}()
		defer metricsServer.Close()
		logger.Info("serving metrics", "addr", *metricsFlag)
	}

	mcpServer := server.NewMCPServer(
		"mindmap-mcp",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(
		mcp.NewTool("ping",
			mcp.WithDescription("Health check, returns pong"),
		),
		func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("pong"), nil
		},
	)

	mcpadapter.RegisterReadTools(mcpServer, sess.Engine)
	mcpadapter.RegisterWriteTools(mcpServer, sess.Engine, sess.Save)

	if err := server.ServeStdio(mcpServer); err != nil {
		sess.Close()
		log.Fatalf("mindmap-mcp: %v", err)
	}
}
