package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HeroTools/open-wispr/internal/engine"
	"github.com/HeroTools/open-wispr/internal/permission"
)

// newDoctorCmd reports what the dictation pipeline would find at startup:
// session type, capability grants, and whether the bridge and model are in
// place.
func newDoctorCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check permissions, tools, and model availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			surface, err := app.surfaceFn(app.log())
			if err != nil {
				return err
			}
			negotiator := permission.NewNegotiator(surface, app.log())

			fmt.Fprintf(out, "Platform:         %s\n", surface.OS())
			fmt.Fprintf(out, "Session type:     %s\n", surface.Session())

			mic := negotiator.Probe(cmd.Context(), permission.CapabilityMicrophone)
			fmt.Fprintf(out, "Microphone:       %s\n", mic)

			auto := negotiator.Probe(cmd.Context(), permission.CapabilityAutomation)
			fmt.Fprintf(out, "Automation:       %s\n", auto)

			paste := negotiator.Probe(cmd.Context(), permission.CapabilityPasteSimulation)
			fmt.Fprintf(out, "Paste simulation: %s\n", paste)

			if bridgePath, err := engine.ResolveBridgePath(); err != nil {
				fmt.Fprintf(out, "Whisper bridge:   missing (%v)\n", err)
			} else {
				fmt.Fprintf(out, "Whisper bridge:   %s\n", bridgePath)
			}

			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}
			resolved, err := engine.ResolveModel(app.settings.ModelID, modelDir)
			switch {
			case err != nil:
				fmt.Fprintf(out, "Model:            %v\n", err)
			case resolved.NeedsDownload:
				fmt.Fprintf(out, "Model:            %s not downloaded (run \"open-wispr setup\")\n", resolved.Name)
			default:
				fmt.Fprintf(out, "Model:            %s at %s\n", resolved.Name, resolved.Path)
			}

			if mic != permission.StatusGranted || auto != permission.StatusGranted {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Some capabilities are missing; dictation may fall back to clipboard-only delivery or refuse to record.")
			}

			return nil
		},
	}
}
