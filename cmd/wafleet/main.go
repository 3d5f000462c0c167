package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/talkincode/wafleet/config"
	"github.com/talkincode/wafleet/internal/adminapi"
	"github.com/talkincode/wafleet/internal/app"
	"github.com/talkincode/wafleet/internal/webserver"
	"go.uber.org/zap"
)

var (
	cfile   = flag.String("c", "wafleet.yml", "config file")
	initdb  = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showver = flag.Bool("v", false, "print version and exit")
)

var version = "dev"

func main() {
	flag.Parse()

	if *showver {
		fmt.Println("wafleet", version)
		return
	}

	cfg := config.LoadConfig(*cfile)

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application.StartBackgroundJobs(ctx)

	webserver.Init(application)
	adminapi.RegisterRoutes()

	errch := make(chan error, 1)
	go func() {
		errch <- webserver.Start()
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errch:
		if err != nil {
			zap.L().Error("webserver exited", zap.Error(err))
		}
	case sig := <-sigch:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
		webserver.Shutdown()
	}
}
