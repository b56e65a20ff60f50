package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShoshinNikita/omfg/cmd"
	"github.com/ShoshinNikita/omfg/omfg"
	"github.com/ShoshinNikita/omfg/pkg/rlog"
)

func main() {
	cfg, printVersion, err := omfg.ParseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		rlog.Errorf("invalid config: %s", err)
		os.Exit(1)
	}

	cfg.BuildInfo.Print()
	if printVersion {
		return
	}
	cfg.Print()

	rlog.SetLevel(cfg.LogLevel)

	app := cmd.NewOmfg(cfg)

	var exitCode int
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rlog.Debug("shutdown")
		if err := app.Shutdown(ctx); err != nil {
			rlog.Error(err)
		}

		os.Exit(exitCode)
	}()

	if err := app.Prepare(); err != nil {
		rlog.Error(err)
		exitCode = 1
		return
	}

	if len(cfg.Images) == 0 {
		rlog.Info("no images passed")
		return
	}

	termCtx, termCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer termCtxCancel()

	if err := app.Run(termCtx, cfg.Images); err != nil {
		rlog.Error(err)
		exitCode = 1
	}
}
