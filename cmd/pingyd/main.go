package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Joe3124t/pingy-sub002/internal/config"
	"github.com/Joe3124t/pingy-sub002/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default: <data dir>/config.toml)")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
