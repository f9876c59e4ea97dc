package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Server   ServerCmd        `cmd:"" help:"Run the race server"`
	Simulate SimulateCmd      `cmd:"" help:"Run offline races and report winner distribution"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("canardsino"),
		kong.Description("Multiplayer duck racing server, played for stakes"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
