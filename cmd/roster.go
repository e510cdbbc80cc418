package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var rosterServer string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Show who is currently in the room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ServerURL: rosterServer})
		if err != nil {
			return err
		}

		sp := ui.NewSimpleSpinner("Fetching roster...")
		sp.Start()
		roster, err := signaling.FetchRoster(cmd.Context(), cfg.ServerURL)
		sp.Stop()
		if err != nil {
			return err
		}

		participants := make([]mesh.Participant, 0, len(roster))
		for _, p := range roster {
			participants = append(participants, mesh.Participant{ID: p.ID, Name: p.Name})
		}
		fmt.Println(ui.RosterView(participants, ""))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.Flags().StringVarP(&rosterServer, "server", "s", "", "Relay WebSocket URL (env: MESHCALL_SERVER)")
}
