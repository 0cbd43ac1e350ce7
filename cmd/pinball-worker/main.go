package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pinterest/pinball/internal/config"
	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/client"
	"github.com/pinterest/pinball/pkg/workflow"
)

func main() {
	log.Init("pinball-worker")

	conf := config.InitConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(conf.Worker.MasterAddr)
	if err != nil {
		log.Error("failed to connect to master at %s: %s", conf.Worker.MasterAddr, err)
		os.Exit(1)
	}
	defer c.Close()

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	worker := workflow.NewWorker(c, &workflow.ShellExecutor{}, workflow.WorkerConfig{
		Name:         workflow.WorkerName(host, conf.Worker.Generation),
		Generation:   conf.Worker.Generation,
		Lease:        conf.Worker.Lease,
		PollInterval: conf.Worker.PollInterval,
		ArchiveDelay: conf.Worker.ArchiveDelay,
	})
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		log.Error("worker stopped: %s", err)
		os.Exit(1)
	}
}
