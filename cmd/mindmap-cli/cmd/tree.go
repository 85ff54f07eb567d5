package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mindmap/internal/domain"
)

var treeAll bool

var treeCmd = &cobra.Command{
	Use:   "tree [node-id]",
	Short: "Display the mindmap as an outline",
	Long: `Display the mindmap, or the subtree under a node, as an indented
outline. The current node is marked with * and collapsed nodes show how
many children they hide.

Examples:
  mindmap-cli tree
  mindmap-cli tree 3f2a9c1e --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := GetSession().Engine.State()

		var start domain.Node
		var ok bool
		if len(args) == 1 {
			start, ok = s.Node(args[0])
		} else {
			start, ok = s.Root()
		}
		if !ok {
			return fmt.Errorf("node not found")
		}

		printTree(s, start, 0)
		if !s.Saved() {
			fmt.Println("\n(unsaved changes)")
		}
		return nil
	},
}

func printTree(s *domain.EditorState, n domain.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	marker := ""
	if n.ShortID == s.CurrentNodeID() {
		marker = " *"
	}

	children := s.Children(n.ShortID)
	if s.IsCollapsed(n.ShortID) && !treeAll {
		fmt.Printf("%s%s %s%s (+%d hidden)\n", indent, n.ShortID, n.Title, marker, len(children))
		return
	}
	fmt.Printf("%s%s %s%s\n", indent, n.ShortID, n.Title, marker)

	for _, child := range children {
		printTree(s, child, depth+1)
	}
}

func init() {
	treeCmd.Flags().BoolVarP(&treeAll, "all", "a", false, "show the children of collapsed nodes")
	rootCmd.AddCommand(treeCmd)
}
