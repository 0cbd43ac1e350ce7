package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinterest/pinball/internal/config"
	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/internal/storage/sqlite"
	"github.com/pinterest/pinball/internal/ui"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/client"
	"github.com/pinterest/pinball/pkg/parser"
	"github.com/pinterest/pinball/pkg/scheduler"
)

func main() {
	log.Init("pinball-scheduler")

	conf := config.InitConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(conf.Scheduler.MasterAddr)
	if err != nil {
		log.Error("failed to connect to master at %s: %s", conf.Scheduler.MasterAddr, err)
		os.Exit(1)
	}
	defer c.Close()

	p, err := parser.Load(conf.Scheduler.WorkflowsPath)
	if err != nil {
		log.Error("failed to load workflow definitions: %s", err)
		os.Exit(1)
	}
	registerSchedules(ctx, c, p)

	var status scheduler.StatusSource
	if conf.Scheduler.StorePath != "" {
		store, err := sqlite.Open(ctx, sqlite.Config{Path: conf.Scheduler.StorePath})
		if err != nil {
			log.Error("failed to open token store: %s", err)
			os.Exit(1)
		}
		defer store.Close()
		status = ui.NewDataBuilder(store, store)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	s := scheduler.NewScheduler(c, p, status, scheduler.Config{
		Name:         scheduler.SchedulerName(host),
		Lease:        conf.Scheduler.Lease,
		PollInterval: conf.Scheduler.PollInterval,
	})
	if err := s.Run(ctx); err != nil && err != context.Canceled {
		log.Error("scheduler stopped: %s", err)
		os.Exit(1)
	}
}

// registerSchedules installs schedule tokens for configured workflows. A
// conflict means the schedule already exists; it is left alone.
func registerSchedules(ctx context.Context, c *client.Client, p *parser.Parser) {
	tokens, err := p.ScheduleTokens(time.Now())
	if err != nil {
		log.Error("failed to build schedule tokens: %s", err)
		os.Exit(1)
	}
	for _, t := range tokens {
		_, err := c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{t}})
		if err != nil {
			var merr *api.MasterError
			if errors.As(err, &merr) && merr.Code == api.ErrorVersionConflict {
				continue
			}
			log.Error("failed to register schedule %s: %s", t.Name, err)
		}
	}
}
