// Command caldora-sched runs scheduling requests against a calendar store.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "caldora-sched",
		Usage: "Create, update and answer meeting invitations.",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			importCommand(),
			showCommand(),
			createCommand(),
			modifyCommand(),
			cancelCommand(),
			replyCommand(),
			forwardCommand(),
			counterCommand(),
			declineCounterCommand(),
			takeoverCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
