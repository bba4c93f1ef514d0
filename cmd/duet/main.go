// Duet CLI entry point.
//
// Duet joins a video-matching relay, negotiates a peer-to-peer audio/video
// call with whoever the relay pairs it with, and carries a text chat beside
// it. Settings come from flags, DUET_* environment variables or duet.yaml;
// a missing relay URL or name is prompted for interactively.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/media"
	"github.com/1ureka/duet/internal/profile"
	"github.com/1ureka/duet/internal/util"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:          "duet",
		Short:        "Meet someone new over a peer-to-peer video call",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Example: `  duet --relay-url wss://relay.example.com/ws --name Ada
  duet --config ./duet.yaml --video-file clip.ivf --audio-file voice.ogg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v, configFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./duet.yaml or ~/.config/duet/duet.yaml)")
	flags.String("relay-url", "", "relay WebSocket URL")
	flags.String("name", "", "display name shown to your match")
	flags.String("audio-file", "", "Ogg/Opus file used as the microphone")
	flags.String("video-file", "", "IVF/VP8 file used as the camera")
	flags.String("profile-api", "", "profile API base URL; enables the onboarding check")
	flags.String("profile-token", "", "bearer token for the profile API")
	flags.Int("reconnect-attempts", 5, "relay reconnect attempts before giving up")
	flags.StringSlice("stun-server", nil, "STUN server URL (repeatable)")
	flags.Duration("stats-interval", 0, "traffic report interval (0 uses the config value)")
	flags.Bool("debug", false, "enable debug logging")

	bind := map[string]string{
		config.KeyRelayURL:          "relay-url",
		config.KeyName:              "name",
		config.KeyAudioFile:         "audio-file",
		config.KeyVideoFile:         "video-file",
		config.KeyProfileAPI:        "profile-api",
		config.KeyProfileToken:      "profile-token",
		config.KeyReconnectAttempts: "reconnect-attempts",
		config.KeySTUNServers:       "stun-server",
		config.KeyStatsInterval:     "stats-interval",
		config.KeyDebug:             "debug",
	}
	for key, flag := range bind {
		// Only flags set on the command line override file and env values.
		f := flags.Lookup(flag)
		cobra.CheckErr(v.BindPFlag(key, f))
	}

	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "duet %s\n", version)
		},
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func run(cmd *cobra.Command, v *viper.Viper, configFile string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	if interactive() {
		if strings.TrimSpace(cfg.RelayURL) == "" {
			cfg.RelayURL = askURL()
		}
		if cfg.Name == "" && cfg.ProfileAPI == "" {
			cfg.Name = askName()
		}
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		return err
	}
	util.LogDebug("relay %s, name %q, stun %v", cfg.RelayURL, cfg.Name, cfg.STUNServers)

	pterm.Info.Println(fmt.Sprintf("Duet v%s", version))
	pterm.Println()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = app.New(cfg, app.NewConsole(cmd.OutOrStdout())).Run(ctx, cmd.InOrStdin())
	switch {
	case err == nil:
		util.LogInfo("session closed")
	case errors.Is(err, profile.ErrNoProfile):
		util.LogError("no profile found: complete onboarding before matching")
	case errors.Is(err, media.ErrDeviceUnavailable):
		util.LogError("%v (use /devices after fixing the source, or check --audio-file/--video-file)", err)
	default:
		util.LogError("%v", err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// askName prompts until a non-empty display name is entered.
func askName() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Display name").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		util.LogWarning("a display name is required")
		pterm.Println()
	}
}

// askURL prompts until a usable relay URL is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.com/ws)").
			Show()

		if u, err := config.NormalizeRelayURL(raw); err == nil && strings.TrimSpace(raw) != "" {
			pterm.Println()
			return u
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
