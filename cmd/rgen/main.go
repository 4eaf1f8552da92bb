package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "rgen: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rgen",
		Usage: "Generate text, embeddings and images on Bedrock, with retrieval over a vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "config file path (a missing file means defaults plus env)",
				EnvVars: []string{"RGEN_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file loaded before the config",
			},
		},
		Before: func(c *cli.Context) error {
			// A missing .env is normal outside development.
			if err := godotenv.Load(c.String("env-file")); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load %s: %w", c.String("env-file"), err)
			}
			return nil
		},
		Commands: []*cli.Command{
			modelsCommand(),
			generateCommand(),
			streamCommand(),
			embedCommand(),
			imageCommand(),
			ragCommand(),
			storeCommand(),
		},
	}
}
