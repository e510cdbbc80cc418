package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/rtc"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var joinOpts config.Options

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join the call",
	Long: `Join the call hosted by a relay. Every other participant gets a direct
WebRTC connection; microphone and screen sources come from the media directory.`,
	Example: `  meshcall join --name alice
  meshcall join -s wss://relay.example.com/ws --mic desk --record ./recordings`,
	Args: cobra.NoArgs,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)

	f := joinCmd.Flags()
	f.StringVarP(&joinOpts.ServerURL, "server", "s", "", "Relay WebSocket URL (env: MESHCALL_SERVER)")
	f.StringVarP(&joinOpts.Name, "name", "n", "", "Display name (env: MESHCALL_NAME)")
	f.StringVar(&joinOpts.STUNServers, "stun", "", "Comma separated STUN URLs (env: STUN_SERVERS)")
	f.StringVarP(&joinOpts.MediaDir, "media", "m", "", "Media directory (env: MESHCALL_MEDIA_DIR)")
	f.StringVarP(&joinOpts.RecordDir, "record", "r", "", "Record remote media into this directory (env: MESHCALL_RECORD_DIR)")
	f.StringVar(&joinOpts.Microphone, "mic", "", "Microphone to open on join (env: MESHCALL_MIC)")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(joinOpts)
	if err != nil {
		return err
	}

	conn, err := NewConnectionContext(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	factory, err := rtc.NewFactory(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("set up webrtc: %w", err)
	}

	playback := media.NewPlayback(cfg.RecordDir)
	defer playback.Close()

	c := newCall(cfg.Name, conn.LocalID, cfg.Microphone, conn.Client, playback)
	session, err := mesh.NewSession(mesh.Config{
		LocalID:  conn.LocalID,
		Signaler: conn.Client,
		NewConn:  factory.NewConn,
		Renderer: playback,
		Observer: c,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}
	c.session = session
	c.media = media.NewManager(media.NewDirCapturer(cfg.MediaDir), session)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		session.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		if err := session.Serve(runCtx, conn.Handler); errors.Is(err, mesh.ErrSignalingClosed) {
			slog.Warn("relay connection lost")
			cancel()
		}
	}()
	go c.relayChat(conn.Handler)

	if err := conn.Client.Join(cfg.Name); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if err := conn.Client.RequestHistory(); err != nil {
		slog.Debug("chat history not requested", "error", err)
	}

	if cfg.Microphone != "" {
		if err := c.media.StartMicrophone(runCtx, cfg.Microphone); err != nil {
			ui.PrintWarning(err.Error())
		}
	}

	started := time.Now()
	uiErr := ui.RunCall(runCtx, c, c.lines)

	statusCtx, statusCancel := context.WithTimeout(context.Background(), time.Second)
	links, _ := session.Status(statusCtx)
	statusCancel()

	c.media.StopAll()
	if err := conn.Client.Leave(); err != nil {
		slog.Debug("leave not sent", "error", err)
	}
	cancel()
	wg.Wait()
	playback.Close()

	fmt.Println()
	ui.RenderCallSummary(os.Stdout, ui.CallSummary{
		Name:     cfg.Name,
		Duration: time.Since(started),
		Links:    links,
		Sinks:    playback.Stats(),
	})

	return uiErr
}
