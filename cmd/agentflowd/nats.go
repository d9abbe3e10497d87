package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
)

const natsReadyTimeout = 5 * time.Second

// startEmbeddedNATS runs a JetStream-enabled nats-server in process, bound
// to loopback.
func startEmbeddedNATS(cfg config.EventsConfig) (*natsserver.Server, error) {
	storeDir := config.ExpandHome(cfg.StoreDir)
	if storeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving nats store dir: %w", err)
		}
		storeDir = filepath.Join(home, ".local", "share", "agentflow", "nats")
	}
	if err := os.MkdirAll(storeDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating nats store dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "agentflow",
		Host:       "127.0.0.1",
		Port:       cfg.EmbeddedPort,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  true,
		StoreDir:   storeDir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(natsReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready after %s", natsReadyTimeout)
	}
	return ns, nil
}

// connectNATS dials the configured broker, starting the embedded one first
// when requested.
func (a *app) connectNATS(ctx context.Context) error {
	url := a.cfg.Events.URL
	if a.cfg.Events.Embedded {
		ns, err := startEmbeddedNATS(a.cfg.Events)
		if err != nil {
			return err
		}
		a.natsServer = ns
		url = ns.ClientURL()
		a.logger.Info(ctx, "embedded nats server started", zap.String("url", url))
	}

	nc, err := nats.Connect(url,
		nats.Name("agentflowd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			a.logger.Info(ctx, "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	a.nc = nc

	a.logger.Info(ctx, "connected to NATS", zap.String("url", url))
	return nil
}
