package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var devicesMediaDir string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones and screen sources",
	Long: `List the capture sources found in the media directory. Opus *.ogg files
are offered as microphones and *.ivf files as shareable screens.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{MediaDir: devicesMediaDir})
		if err != nil {
			return err
		}

		capturer := media.NewDirCapturer(cfg.MediaDir)
		mics, err := capturer.Microphones()
		if err != nil {
			return err
		}
		screens, err := capturer.ScreenSources()
		if err != nil {
			return err
		}

		fmt.Println(ui.TitleStyle.Render("Capture sources in " + cfg.MediaDir))
		fmt.Println(ui.SourcesView(mics, screens))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesMediaDir, "media", "m", "", "Media directory (env: MESHCALL_MEDIA_DIR)")
}
