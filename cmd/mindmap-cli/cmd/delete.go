package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <node-id>",
	Short: "Delete a node and its subtree",
	Long: `Delete a node together with all of its descendants.
The root cannot be deleted. The deletion is saved to the remote with
the next save.

Example:
  mindmap-cli delete 3f2a9c1e`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatch(context.Background(), "node.delete", application.Params{"nodeId": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
