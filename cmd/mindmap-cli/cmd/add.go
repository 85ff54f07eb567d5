package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var (
	addParent  string
	addNote    string
	addIndex   int
	addSibling bool
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a node",
	Long: `Add a child under a node, or a sibling right after it.
Without --parent the current node is used. The new node becomes current.

Examples:
  mindmap-cli add "Flights" --parent 3f2a9c1e
  mindmap-cli add "Hotels" --sibling
  mindmap-cli add "First thing" --index 0`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := application.Params{"title": args[0]}
		if addNote != "" {
			params["note"] = addNote
		}

		commandID := "node.add_child"
		if addSibling {
			commandID = "node.add_sibling"
			if addParent != "" {
				params["nodeId"] = addParent
			}
		} else {
			if addParent != "" {
				params["parentId"] = addParent
			}
			if addIndex >= 0 {
				params["index"] = addIndex
			}
		}

		return dispatch(context.Background(), commandID, params)
	},
}

func init() {
	addCmd.Flags().StringVarP(&addParent, "parent", "p", "", "parent node, or the node to follow with --sibling")
	addCmd.Flags().StringVar(&addNote, "note", "", "note attached to the node")
	addCmd.Flags().IntVar(&addIndex, "index", -1, "position among siblings (default last)")
	addCmd.Flags().BoolVar(&addSibling, "sibling", false, "add after the node instead of under it")
	rootCmd.AddCommand(addCmd)
}
