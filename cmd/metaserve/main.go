// Command metaserve runs the meta-server: the rendezvous point where game
// servers advertise their presence to game clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metaserve/internal/dispatch"
	"metaserve/internal/registry"
	"metaserve/internal/statusapi"
	"metaserve/internal/tlsload"
	"metaserve/internal/transport"
	"metaserve/internal/wire"
)

type config struct {
	keyPath    string
	certPath   string
	stateSize  int
	listenAddr string
	statusAddr string
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("metaserve", flag.ContinueOnError)

	var cfg config
	// flag has no native short/long aliasing, so each option is
	// registered twice against the same backing variable.
	fs.StringVar(&cfg.keyPath, "key", "", "server private key, DER format (required)")
	fs.StringVar(&cfg.keyPath, "k", "", "shorthand for --key")
	fs.StringVar(&cfg.certPath, "cert", "", "server certificate, DER format (required)")
	fs.StringVar(&cfg.certPath, "c", "", "shorthand for --cert")
	fs.IntVar(&cfg.stateSize, "state-size", 8192, "cap on heartbeat payload bytes")
	fs.IntVar(&cfg.stateSize, "s", 8192, "shorthand for --state-size")
	fs.StringVar(&cfg.listenAddr, "listen", "[::]:4433", "UDP bind address")
	fs.StringVar(&cfg.statusAddr, "status-addr", "", "optional HTTP bind address for the status API (empty disables it)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.keyPath == "" {
		return config{}, fmt.Errorf("-k/--key is required")
	}
	if cfg.certPath == "" {
		return config{}, fmt.Errorf("-c/--cert is required")
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(os.Getenv("METASERVE_LOG")))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	os.Exit(run())
}

func run() int {
	log := newLogger()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Error("invalid configuration", "err", err)
		return 1
	}

	tlsConf, err := tlsload.Load(cfg.keyPath, cfg.certPath,
		[]string{string(wire.ClientProtocol), string(wire.GameProtocol)}, log)
	if err != nil {
		log.Error("failed to load tls identity", "err", err)
		return 1
	}

	listener, err := transport.Listen(cfg.listenAddr, tlsConf, cfg.stateSize)
	if err != nil {
		log.Error("failed to bind listener", "err", err)
		return 1
	}
	defer listener.Close()
	log.Info("listening", "addr", cfg.listenAddr, "state_size", cfg.stateSize)

	reg := registry.New(log)
	d := dispatch.New(listener, reg, cfg.stateSize, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	go logRegistryStats(ctx, reg, log, 30*time.Second)

	var status *statusapi.Server
	statusDone := make(chan error, 1)
	if cfg.statusAddr != "" {
		status = statusapi.New(reg, log)
		go func() { statusDone <- status.Run(ctx, cfg.statusAddr) }()
	} else {
		statusDone <- nil
	}

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("dispatcher stopped with error", "err", err)
		return 1
	}

	if err := <-statusDone; err != nil {
		log.Error("status api stopped with error", "err", err)
		return 1
	}

	log.Info("shut down cleanly")
	return 0
}

// logRegistryStats periodically logs live server/client counts, the way
// a long-running daemon reports its own health to the log stream without
// requiring an operator to poll the status API.
func logRegistryStats(ctx context.Context, reg *registry.Registry, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			servers := reg.ServerCount()
			clients := reg.ClientCount()
			if servers == 0 && clients == 0 {
				continue
			}
			log.Info("registry stats", "servers", servers, "clients", clients)
		}
	}
}
