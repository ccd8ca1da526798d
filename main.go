// Package main provides the entry point for pvpn, a command-line client
// that connects to ProtonVPN servers through OpenVPN.
//
// Usage:
//
//	pvpn init
//	pvpn connect [fastest|random|cc CODE|sc|p2p|tor|server NAME]
//	pvpn status
//	pvpn disconnect
//
// Environment:
//
//	Connecting requires the openvpn binary and enough privileges to
//	create a tun device.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/pvpn/cli"
	"github.com/yllada/pvpn/common"
	"github.com/yllada/pvpn/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
var (
	appVersion = ""
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	if appVersion != "" {
		common.AppVersion = appVersion
	}
	common.BuildTime = buildTime
	common.CommitSHA = commitSHA
	defer common.CloseLogger()

	paths, err := config.DefaultPaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if err := cli.Execute(ctx, cli.New(paths), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

// setupSignalHandler cancels the context on SIGINT/SIGTERM so a running
// connection is torn down and its credential file removed.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, shutting down...", sig)
		cancel()
	}()
}
