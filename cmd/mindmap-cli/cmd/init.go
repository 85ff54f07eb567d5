package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initTitle string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Open a mindmap, creating it if the remote has none",
	Long: `Open a mindmap by ID. When neither the local store nor the remote
knows it, a new mindmap with a single root node is created locally.
It reaches the remote with the first save.

Example:
  mindmap-cli -m holiday init --title "Summer holiday"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := GetSession().Engine.State()
		root, _ := s.Root()
		fmt.Printf("Opened %s with %d nodes, root [%s] %s\n", GetSession().MindmapID(), s.Len(), root.ShortID, root.Title)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initTitle, "title", "", "title of the root node for a new mindmap")
	rootCmd.AddCommand(initCmd)
}
