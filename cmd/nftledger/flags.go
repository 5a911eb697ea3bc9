package main

import "github.com/urfave/cli/v2"

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "load configuration from `file` (default: $CONFIG_FILE or configs/config.json)",
	}
	MigrateDownFlag = &cli.BoolFlag{
		Name:  "down",
		Usage: "roll back every migration",
	}
	TokenSubjectFlag = &cli.StringFlag{
		Name:     "subject",
		Aliases:  []string{"s"},
		Usage:    "account the token acts as",
		Required: true,
	}
)
