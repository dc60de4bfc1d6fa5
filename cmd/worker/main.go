// Command worker runs the Temporal worker that executes generation and
// evaluation rounds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-canvas/internal/config"
	"github.com/ahrav/go-canvas/internal/logging"
	"github.com/ahrav/go-canvas/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	deps, err := worker.Setup(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("closing dependencies", "error", err)
		}
	}()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.Temporal(logger),
	})
	if err != nil {
		return fmt.Errorf("dial temporal %s: %w", cfg.Temporal.HostPort, err)
	}
	defer c.Close()

	w := sdkworker.New(c, cfg.Temporal.TaskQueue, sdkworker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Evaluation.MaxParallel * 2,
	})
	worker.RegisterAll(w, deps)

	logger.Info("worker starting", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace)
	return w.Run(sdkworker.InterruptCh())
}
