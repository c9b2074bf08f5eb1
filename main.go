/*
Reference path tracer built on the engine package.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/testbed"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2

	defaultConfigPath = "config.toml"
)

func main() {
	os.Exit(run())
}

func run() int {
	path := os.Getenv("LUMEN_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		core.LogError("invalid configuration: %s", err)
		return exitConfig
	}

	tb, err := testbed.NewTestGame(cfg)
	if err != nil {
		core.LogError("%s", err)
		return exitConfig
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogError("%s", err)
		return exitConfig
	}

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize: %s", err)
		_ = e.Shutdown()
		return exitFatal
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the run loop exits once the quit event is handled
	go func() {
		<-sigCh
		e.Stop()
	}()

	code := exitOK
	if err := e.Run(); err != nil {
		core.LogError("engine stopped: %s", err)
		code = exitFatal
	}
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
		if code == exitOK && core.IsFatal(err) {
			code = exitFatal
		}
	}
	return code
}
