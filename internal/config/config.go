package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BioHazard786/meshcall/internal/names"
)

// Default configuration values
const (
	DefaultServer = "ws://localhost:8080/ws"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultMedia  = "media"
)

// Config holds the client configuration
type Config struct {
	// ServerURL is the relay WebSocket endpoint
	ServerURL string

	// Name is the display name announced on join
	Name string

	// ICEServers are STUN URLs handed to every peer connection
	ICEServers []string

	// MediaDir holds the capture sources (*.ogg microphones, *.ivf screens)
	MediaDir string

	// RecordDir receives remote audio/screen recordings; empty disables recording
	RecordDir string

	// Microphone is started right after joining when set
	Microphone string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL   string
	Name        string
	STUNServers string
	MediaDir    string
	RecordDir   string
	Microphone  string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	server := pick(opts.ServerURL, "MESHCALL_SERVER", DefaultServer)
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", server)
	}

	name := strings.TrimSpace(pick(opts.Name, "MESHCALL_NAME", ""))
	if name == "" {
		name = names.Random()
	}

	return &Config{
		ServerURL:  u.String(),
		Name:       name,
		ICEServers: splitList(pick(opts.STUNServers, "STUN_SERVERS", DefaultSTUN)),
		MediaDir:   pick(opts.MediaDir, "MESHCALL_MEDIA_DIR", DefaultMedia),
		RecordDir:  pick(opts.RecordDir, "MESHCALL_RECORD_DIR", ""),
		Microphone: pick(opts.Microphone, "MESHCALL_MIC", ""),
	}, nil
}

// pick returns the flag value, then the environment, then the default.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
