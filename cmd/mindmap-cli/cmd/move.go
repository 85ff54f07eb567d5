package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var moveIndex int

var moveCmd = &cobra.Command{
	Use:   "move <node-id> <parent-id>",
	Short: "Move a node under another parent",
	Long: `Move a node, with its subtree, under a new parent.

Rules:
- The root cannot be moved
- A node cannot be moved under itself or one of its descendants

Examples:
  mindmap-cli move 3f2a9c1e 77b0d4aa
  mindmap-cli move 3f2a9c1e 77b0d4aa --index 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := application.Params{"nodeId": args[0], "parentId": args[1]}
		if moveIndex >= 0 {
			params["index"] = moveIndex
		}
		return dispatch(context.Background(), "node.move", params)
	},
}

var reorderCmd = &cobra.Command{
	Use:   "reorder <node-id> <index>",
	Short: "Change a node's position among its siblings",
	Long: `Move a node to another position under the same parent.
Positions start at 0; larger values move the node last.

Example:
  mindmap-cli reorder 3f2a9c1e 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return &application.ValidationError{Field: "index", Message: "must be a number, got: " + args[1]}
		}
		return dispatch(context.Background(), "node.reorder", application.Params{"nodeId": args[0], "index": index})
	},
}

func init() {
	moveCmd.Flags().IntVar(&moveIndex, "index", -1, "position under the new parent (default last)")
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(reorderCmd)
}
