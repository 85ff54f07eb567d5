package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pullForce bool

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local replica with the remote copy",
	Long: `Fetch the remote copy of the mindmap and replace the local replica.
Refuses to run while there are unsaved local changes unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s := GetSession()

		if err := s.Engine.Flush(ctx); err != nil {
			return err
		}
		dirty, err := s.Store.ListDirty(ctx, s.MindmapID())
		if err != nil {
			return err
		}
		if len(dirty) > 0 && !pullForce {
			return fmt.Errorf("%d local changes are unsaved: run \"mindmap-cli save\" first or pull with --force", len(dirty))
		}

		snap, err := s.Protocol.Pull(ctx, s.MindmapID())
		if err != nil {
			return err
		}
		state, err := s.Protocol.Load(ctx, s.MindmapID())
		if err != nil {
			return err
		}
		s.Engine.Reset(state)

		fmt.Printf("Pulled %d nodes, remote version %s\n", len(snap.Nodes), snap.Document.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	pullCmd.Flags().BoolVar(&pullForce, "force", false, "drop unsaved local changes")
	rootCmd.AddCommand(pullCmd)
}
