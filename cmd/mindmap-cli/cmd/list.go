package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mindmap/internal/adapters/sqlite"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the mindmaps in the local store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := sqlite.NewStore()
		if err := store.Open(dbPath); err != nil {
			return err
		}
		defer store.Close()

		docs, err := store.ListDocuments(context.Background())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No mindmaps. Run \"mindmap-cli -m <id> init\" to start one.")
			return nil
		}
		for _, d := range docs {
			synced := "never synced"
			if !d.LastSyncedRemote.IsZero() {
				synced = "synced " + d.LastSyncedRemote.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-24s %-32s %s\n", d.ID, d.Title, synced)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
