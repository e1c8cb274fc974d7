package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	htmlKey    = "html"
	anchorKey  = "anchor"
	pathKey    = "path"
	visibleKey = "visible"
	textKey    = "text"
	attrKey    = "attr"
	scriptKey  = "script"
	followKey  = "follow"
	formatKey  = "format"
	verboseKey = "verbose"
)

func main() {
	cmd := &cli.Command{
		Name:  "domwatch",
		Usage: "Watch nodes of an HTML page appear, change and disappear",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a watcher path against a page, optionally mutating it with a script",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     htmlKey,
						Usage:    "HTML file to load",
						Required: true,
					},
					&cli.StringFlag{
						Name:  anchorKey,
						Usage: "Pattern of the node the root watcher is bound to",
						Value: "body",
					},
					&cli.StringSliceFlag{
						Name:     pathKey,
						Usage:    "Pattern of the next path step: #id, .class or tag (repeatable)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  visibleKey,
						Usage: "Only report the last step while it is visible",
					},
					&cli.BoolFlag{
						Name:  textKey,
						Usage: "Report the text content of matched nodes",
					},
					&cli.StringSliceFlag{
						Name:  attrKey,
						Usage: "Report the value of this attribute of matched nodes (repeatable)",
					},
					&cli.StringFlag{
						Name:  scriptKey,
						Usage: "YAML mutation script applied after the watchers connect",
					},
					&cli.BoolFlag{
						Name:  followKey,
						Usage: "Keep running and reload the page into the anchor whenever the file changes",
					},
					&cli.StringFlag{
						Name:  formatKey,
						Usage: "Event output format: text or json",
						Value: "text",
					},
					&cli.BoolFlag{
						Name:  verboseKey,
						Usage: "Log connections and deliveries",
					},
				},
				Action: run,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
