package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
	"mindmap/internal/config"
	"mindmap/internal/session"
)

var (
	dbPath    string
	remoteURL string
	mindmapID string
	sess      *session.Session
)

var rootCmd = &cobra.Command{
	Use:   "mindmap-cli",
	Short: "CLI for editing mindmaps offline",
	Long: `mindmap-cli edits a local replica of a mindmap and saves it to the
remote copy on demand.

Every edit goes through the same commands the editor uses, so it is
validated, stored locally and can be listed with "mindmap-cli commands".
Nodes are addressed by the short ID shown by "mindmap-cli tree".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands and commands without a mindmap
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "list" {
			return nil
		}
		if err := config.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s: %v\n", config.File(), err)
		}

		opts := session.Options{
			DatabasePath:            dbPath,
			RemoteURL:               remoteURL,
			MindmapID:               mindmapID,
			Logger:                  newLogger(),
			HistoryLimit:            config.HistoryLimit(),
			SlowSubscriberThreshold: config.SlowSubscriberThreshold(),
		}
		if cmd.Name() == "init" {
			opts.Create = true
			opts.Title = initTitle
		}

		var err error
		sess, err = session.Open(context.Background(), opts)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if sess == nil {
			return nil
		}
		err := sess.Close()
		sess = nil
		return err
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if sess != nil {
			_ = sess.Close()
		}
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DatabasePath(), "path to the local store (default under $XDG_DATA_HOME/mindmap)")
	rootCmd.PersistentFlags().StringVar(&remoteURL, "remote", config.RemoteURL(), "base URL of the remote backend")
	rootCmd.PersistentFlags().StringVarP(&mindmapID, "mindmap", "m", config.MindmapID(), "ID of the mindmap to open")
}

// GetSession returns the open session
func GetSession() *session.Session {
	return sess
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()}))
}

// describe adds a hint to errors a user can act on
func describe(err error) string {
	var conflict *application.ConflictError
	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf("%v\nRun \"mindmap-cli save --force\" to overwrite the remote copy or \"mindmap-cli save --discard\" to drop local changes.", err)
	case errors.Is(err, application.ErrPersistence):
		return fmt.Sprintf("%v\nThe change was not written to the local store; check the database path and disk space.", err)
	default:
		return err.Error()
	}
}
