package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jveski/workspaced/internal/concurrency"
	"github.com/jveski/workspaced/internal/config"
	"github.com/jveski/workspaced/internal/docker"
	"github.com/jveski/workspaced/internal/kube"
	"github.com/jveski/workspaced/internal/provision"
	"github.com/jveski/workspaced/internal/rpc"
)

func main() {
	app := &cli.App{
		Name:  "workspaced",
		Usage: "Runs workspace environments on docker or kubernetes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the daemon's config file",
				Value:   "workspaced.toml",
				EnvVars: []string{"WORKSPACED_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "address on which to serve the private API",
				Value: ":" + rpc.DefaultPort,
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "directory holding the daemon's certificate",
				Value: ".",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rt, steps, err := newBackend(cfg)
	if err != nil {
		return err
	}
	pipeline := provision.New(steps...)
	log.Printf("using the %s backend with provisioners: %v", cfg.Backend, pipeline.Steps())

	cert, fingerprint, err := rpc.GenCertificate(c.String("state-dir"))
	if err != nil {
		return fmt.Errorf("generating certificate: %w", err)
	}
	log.Printf("server certificate fingerprint: %s", fingerprint)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := newManager(rt, pipeline)
	defer m.Close()

	go concurrency.RunLoop(ctx, nil, 0, time.Second*15, func(ctx context.Context) bool {
		err := rt.WatchEvents(ctx, m.HandleEvent)
		if err != nil && ctx.Err() == nil {
			log.Printf("error watching infrastructure events: %s", err)
		}
		return ctx.Err() != nil
	})

	svr := rpc.NewServer(c.String("addr"), cert, rpc.WithLogging(newApiHandler(m, cfg)))
	go func() {
		<-ctx.Done()
		svr.Close()
	}()

	log.Printf("serving on %s", svr.Addr)
	if err := svr.ListenAndServeTLS("", ""); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running API server: %w", err)
	}
	return nil
}

func newBackend(cfg *config.Config) (runtime, []provision.Step, error) {
	switch cfg.Backend {
	case config.BackendKubernetes:
		client, err := kube.NewClientset(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Context)
		if err != nil {
			return nil, nil, err
		}
		return kube.NewRuntime(client, cfg.Kubernetes), kube.Provisioners(cfg), nil

	default:
		rt, err := docker.NewRuntime(cfg.Docker)
		if err != nil {
			return nil, nil, err
		}
		return rt, docker.Provisioners(cfg), nil
	}
}
