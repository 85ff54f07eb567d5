package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var (
	updateTitle string
	updateNote  string
)

var updateCmd = &cobra.Command{
	Use:   "update <node-id>",
	Short: "Change a node's title or note",
	Long: `Change the title and/or the note of a node.

Examples:
  mindmap-cli update 3f2a9c1e --title "Flights (booked)"
  mindmap-cli update 3f2a9c1e --note ""`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := application.Params{"nodeId": args[0]}
		if cmd.Flags().Changed("title") {
			params["title"] = updateTitle
		}
		if cmd.Flags().Changed("note") {
			params["note"] = updateNote
		}
		if len(params) == 1 {
			return fmt.Errorf("nothing to update: pass --title and/or --note")
		}
		return dispatch(context.Background(), "node.update", params)
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	updateCmd.Flags().StringVar(&updateNote, "note", "", "new note")
	rootCmd.AddCommand(updateCmd)
}
