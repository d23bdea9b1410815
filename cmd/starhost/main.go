package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	starhost "github.com/xirelogy/go-starhost"
	"github.com/xirelogy/go-starhost/internal/config"
	"github.com/xirelogy/go-starhost/internal/logging"
)

// mainScript shows native and in-language methods working together.
//
//go:embed main.star
var mainScript []byte

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	script := starhost.Script{Name: "main.star", Source: mainScript}
	if cfg.Script != "" {
		script = starhost.Script{Path: cfg.Script}
	}

	// TODO: parse process arguments into ARGV.
	var args [][]byte

	err = starhost.Run(ctx, script, args,
		starhost.WithLogger(log),
		starhost.WithColor(cfg.ColorChoice()),
		starhost.WithMaxSteps(cfg.MaxSteps),
		starhost.WithFailOnScriptError(cfg.FailOnScriptError),
		starhost.WithInteractive(cfg.Interactive),
	)
	if err != nil {
		if !errors.Is(err, starhost.ErrScriptFailed) {
			log.Error("starhost failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}
