// Command travai-cli drives Travai onboarding from a terminal, either against
// an in-process engine or a running server's data channel.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/travai/travai/internal/util"
	"github.com/urfave/cli/v2"
)

// DefaultServer is where the CLI looks for a backend when --server is unset.
const DefaultServer = "http://localhost:8000"

func main() {
	_ = godotenv.Load()
	initializeLogger(os.Stderr)

	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initializeLogger keeps the terminal quiet unless TRAVAI_DEBUG is set.
func initializeLogger(w io.Writer) {
	level := slog.LevelWarn
	if util.ParseBoolEnv("TRAVAI_DEBUG", false) {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "travai-cli",
		Usage:     "Run and inspect Travai voice onboarding from the terminal",
		Reader:    in,
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Travai backend base URL",
				Value:   DefaultServer,
				EnvVars: []string{"TRAVAI_SERVER"},
			},
			&cli.StringFlag{
				Name:    "script",
				Usage:   "YAML onboarding script for local runs",
				EnvVars: []string{"ONBOARDING_SCRIPT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "onboard",
				Usage: "Answer the onboarding questions interactively",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "Talk to the server's data channel instead of a local engine",
					},
					&cli.StringFlag{
						Name:  "room",
						Usage: "Room name for remote sessions (random when unset)",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Participant identity for remote sessions (random when unset)",
					},
				},
				Action: onboardAction,
			},
			{
				Name:  "token",
				Usage: "Fetch a room token and show a join QR code",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "room",
						Usage: "Room name (random when unset)",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Participant identity (random when unset)",
					},
					&cli.StringFlag{
						Name:  "metadata",
						Usage: "Participant metadata attached to the token",
					},
					&cli.BoolFlag{
						Name:  "no-qr",
						Usage: "Print the token without rendering a QR code",
					},
				},
				Action: tokenAction,
			},
			{
				Name:  "script",
				Usage: "Print the active onboarding questions",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "Print the script the server is using",
					},
				},
				Action: scriptAction,
			},
		},
	}
}
