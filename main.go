/*
Model viewer built on the engine package. The configuration is read from
viewer.toml or the file named by MODELVIEWER_CONFIG.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/modelviewer/engine"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/viewer"
)

func main() {
	config, err := engine.LoadConfig(engine.ConfigPath())
	if err != nil {
		core.LogFatal("failed to load the configuration: %v", err)
	}
	mv := viewer.New(config)

	e, err := engine.New(mv.Game)
	if err != nil {
		core.LogFatal("failed to create the engine: %v", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("failed to initialize the engine: %v", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		e.Quit()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %v", runErr)
	}
}
