package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mindmap/internal/application"
)

var (
	saveForce   bool
	saveDiscard bool
	saveCancel  bool
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Upload local changes to the remote copy",
	Long: `Upload every locally changed or deleted node to the remote copy.

If the remote copy changed since this replica last synced, the save
stops with a conflict. Run it again with one of:
  --force    upload anyway; the remote keeps the latest write per node
  --discard  drop local changes and reload the remote copy
  --cancel   leave local changes unsaved`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution := application.ResolutionNone
		switch {
		case saveForce:
			resolution = application.ResolutionForce
		case saveDiscard:
			resolution = application.ResolutionDiscard
		case saveCancel:
			resolution = application.ResolutionCancel
		}

		res, err := GetSession().Save(context.Background(), resolution)
		if err != nil {
			return err
		}
		fmt.Println(res.Message)
		return nil
	},
}

func init() {
	saveCmd.Flags().BoolVar(&saveForce, "force", false, "upload despite a conflict")
	saveCmd.Flags().BoolVar(&saveDiscard, "discard", false, "drop local changes after a conflict")
	saveCmd.Flags().BoolVar(&saveCancel, "cancel", false, "keep local changes unsaved after a conflict")
	saveCmd.MarkFlagsMutuallyExclusive("force", "discard", "cancel")
	rootCmd.AddCommand(saveCmd)
}
