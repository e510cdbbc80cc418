package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "meshcall",
	Short:   "Full-mesh WebRTC calls coordinated through a small signaling relay",
	Long:    `meshcall connects every participant of a room directly to every other participant over WebRTC. A lightweight relay keeps the roster and forwards offers, answers and ICE candidates; media never passes through it. Run "meshcall relay" once and "meshcall join" on every machine that takes part in the call.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()

	if err != nil && !interrupted {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
	if interrupted {
		os.Exit(130)
	}
}
