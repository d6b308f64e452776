// Nowlink — CLI entry point.
//
// This tool runs a peer-addressed datagram station. Two stations pair over a
// short-lived WebSocket signaling exchange, then talk directly over a WebRTC
// DataChannel that emulates the air interface. No relay servers are involved
// after signaling.
//
// It can be launched interactively (no subcommand) or non-interactively via
// the host, join and sim subcommands.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nowmesh/nowlink/internal/app"
	"github.com/nowmesh/nowlink/internal/config"
	"github.com/nowmesh/nowlink/internal/util"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

var (
	cfgFile   string
	debugMode bool

	// Set during PersistentPreRun.
	station *config.Station
)

var rootCmd = &cobra.Command{
	Use:           "nowlink",
	Short:         "Peer-addressed datagram station over an emulated air link",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugMode {
			util.EnableDebug()
		}

		if cfgFile == "" {
			station = config.Default()
			return nil
		}
		var err error
		station, err = config.Load(cfgFile)
		return err
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// No subcommand → interactive mode.
		return runInteractive(cmd.Context())
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Host an air link and wait for one station to join",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunHost(cmd.Context(), station)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <ws-url>",
	Short: "Join a hosted air link via its signaling URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wsURL, err := normalizeWSURL(args[0])
		if err != nil {
			return err
		}
		return app.RunJoin(cmd.Context(), station, wsURL)
	},
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the station against an in-memory radio with an echo peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.RunSim(cmd.Context(), station)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the nowlink version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nowlink version %s\n", version)
	},
}

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a station profile (YAML)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(hostCmd, joinCmd, simCmd, versionCmd)

	pterm.Info.Println(fmt.Sprintf("Nowlink — v%s", version))
	pterm.Println()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("station shut down")
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive falls back to prompts when no subcommand is given.
func runInteractive(ctx context.Context) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host — Wait for a station to join",
			"Join — Connect to a hosting station",
			"Sim  — Local echo simulation",
		}).
		WithDefaultText("Select a mode").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Host"):
		return app.RunHost(ctx, station)
	case strings.HasPrefix(role, "Join"):
		return app.RunJoin(ctx, station, askURL())
	default:
		return app.RunSim(ctx, station)
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}
