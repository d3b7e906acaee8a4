package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HeroTools/open-wispr/internal/engine"
)

func newModelsCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage downloaded speech models",
	}

	cmd.AddCommand(newModelsStatusCmd(app))
	cmd.AddCommand(newModelsDeleteCmd(app))

	return cmd
}

func newModelsStatusCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which models are downloaded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Model directory: %s\n\n", modelDir)
			for _, name := range engine.ModelNames() {
				status, err := engine.ModelStatus(name, modelDir)
				if err != nil {
					return err
				}

				state := "downloaded"
				if status.NeedsDownload {
					state = "not downloaded"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, state)
			}
			return nil
		},
	}
}

func newModelsDeleteCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model>",
		Short: "Delete a downloaded model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			freed, err := engine.DeleteModel(args[0], modelDir)
			if err != nil {
				return err
			}

			app.log().Info("model deleted",
				zap.String("model", args[0]),
				zap.Int64("freedBytes", freed))
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (freed %d bytes)\n", args[0], freed)
			return nil
		},
	}
}
