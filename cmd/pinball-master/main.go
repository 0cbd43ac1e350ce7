package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinterest/pinball/internal/config"
	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/internal/master"
	"github.com/pinterest/pinball/internal/otel"
	"github.com/pinterest/pinball/internal/rest"
	"github.com/pinterest/pinball/internal/rpc"
	"github.com/pinterest/pinball/internal/storage/sqlite"
	"github.com/pinterest/pinball/internal/ui"
)

func main() {
	log.Init("pinball-master")

	appContext, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf.Name)
	if err != nil {
		log.Error("failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(appContext, sqlite.Config{Path: conf.Master.StorePath})
	if err != nil {
		log.Error("failed to open token store: %s", err)
		os.Exit(1)
	}

	m, err := master.NewMaster(store, conf.Master.NodeId)
	if err != nil {
		log.Error("failed to build master: %s", err)
		os.Exit(1)
	}
	if err := m.Start(appContext); err != nil {
		log.Error("failed to recover master state: %s", err)
		os.Exit(1)
	}

	grpcSrv := rpc.NewServer(m, conf.Master.Addr)
	if _, err := grpcSrv.Start(); err != nil {
		log.Error("failed to start gRPC server: %s", err)
		os.Exit(1)
	}

	builder := ui.NewDataBuilder(store, store)
	restSrv := rest.NewServer(conf.HttpServer.Addr, builder, store, store, func() any {
		return map[string]string{"status": m.Status()}
	})
	if _, err := restSrv.Start(); err != nil {
		log.Error("failed to start HTTP server: %s", err)
		os.Exit(1)
	}

	appStop := make(chan os.Signal, 2)
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Info("received %s, shutting down", sig.String())

	grpcSrv.Stop()
	m.Stop()
	restSrv.Stop(appContext)
	if err := store.Close(); err != nil {
		log.Error("failed to close token store: %s", err)
	}
	openTelemetry.Stop(appContext)
}
