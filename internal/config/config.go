package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	// Name identifies the application in metrics.
	Name       string    `yaml:"name" json:"name" env:"PINBALL_NAME" env-default:"pinball"`
	Master     Master    `yaml:"master" json:"master"`
	HttpServer Server    `yaml:"httpServer" json:"httpServer"`
	Worker     Worker    `yaml:"worker" json:"worker"`
	Scheduler  Scheduler `yaml:"scheduler" json:"scheduler"`
}

type Master struct {
	// Addr is the gRPC listen address of the token master.
	Addr string `yaml:"addr" json:"addr" env:"MASTER_ADDR" env-default:":8090"`
	// NodeId seeds the snowflake version source. Every master instance that
	// ever writes the same store must use a distinct id.
	NodeId int64 `yaml:"nodeId" json:"nodeId" env:"MASTER_NODE_ID"`
	// StorePath is the sqlite database file backing the token store.
	StorePath string `yaml:"storePath" json:"storePath" env:"MASTER_STORE_PATH" env-default:"pinball.db"`
}

type Server struct {
	// Addr serves the read-only UI API and /system endpoints.
	Addr string `yaml:"addr" json:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

type Worker struct {
	// MasterAddr is the gRPC address of the token master.
	MasterAddr string `yaml:"masterAddr" json:"masterAddr" env:"WORKER_MASTER_ADDR" env-default:"localhost:8090"`
	// Lease is how long a claimed job token stays owned before it must be
	// renewed.
	Lease time.Duration `yaml:"lease" json:"lease" env:"WORKER_LEASE" env-default:"20m"`
	// PollInterval is the base delay between claim attempts; actual delays
	// are jittered.
	PollInterval time.Duration `yaml:"pollInterval" json:"pollInterval" env:"WORKER_POLL_INTERVAL" env-default:"5s"`
	// Generation tags the worker cohort for rolling upgrades. An EXIT signal
	// carrying a generation at or below the worker's is ignored.
	Generation int64 `yaml:"generation" json:"generation" env:"WORKER_GENERATION" env-default:"1"`
	// ArchiveDelay is how long a finished instance lingers in the live
	// namespace before a worker archives it.
	ArchiveDelay time.Duration `yaml:"archiveDelay" json:"archiveDelay" env:"WORKER_ARCHIVE_DELAY" env-default:"12h"`
	// StorePath is accepted in the worker section; the worker daemon does
	// not open a store and does not read this value.
	StorePath string `yaml:"storePath" json:"storePath" env:"WORKER_STORE_PATH"`
}

type Scheduler struct {
	MasterAddr string `yaml:"masterAddr" json:"masterAddr" env:"SCHEDULER_MASTER_ADDR" env-default:"localhost:8090"`
	// PollInterval is the sleep between claim attempts when no schedule is
	// due.
	PollInterval time.Duration `yaml:"pollInterval" json:"pollInterval" env:"SCHEDULER_POLL_INTERVAL" env-default:"10s"`
	// Lease is how long a claimed schedule token stays owned while the
	// scheduler manipulates it.
	Lease time.Duration `yaml:"lease" json:"lease" env:"SCHEDULER_LEASE" env-default:"5m"`
	// WorkflowsPath points at the yaml workflow definitions fed to the
	// parser.
	WorkflowsPath string `yaml:"workflowsPath" json:"workflowsPath" env:"SCHEDULER_WORKFLOWS_PATH" env-default:"workflows.yaml"`
	StorePath     string `yaml:"storePath" json:"storePath" env:"SCHEDULER_STORE_PATH"`
}

func (c Config) defaults() Config {
	if c.Master.NodeId == 0 {
		// Derive a pseudo-random node id so single-node setups work without
		// configuration. Multi-master deployments must set it explicitly.
		c.Master.NodeId = int64(uuid.New().ID() % 1024)
	}
	return c
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c.defaults()
}
