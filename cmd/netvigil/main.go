package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/netvigil/netvigil/pkg/blocklist"
	"github.com/netvigil/netvigil/pkg/clock"
	"github.com/netvigil/netvigil/pkg/config"
	"github.com/netvigil/netvigil/pkg/hub"
	"github.com/netvigil/netvigil/pkg/intel"
	"github.com/netvigil/netvigil/pkg/logger"
	"github.com/netvigil/netvigil/pkg/metrics"
	"github.com/netvigil/netvigil/pkg/monitor"
	"github.com/netvigil/netvigil/pkg/probe"
	"github.com/netvigil/netvigil/pkg/store"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// Exit codes.
const (
	exitOK        = 0
	exitConfig    = 1
	exitPortInUse = 2
	exitPrivilege = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("netvigil", pflag.ContinueOnError)
	flags.String("config", "", "Path to config file")
	flags.String("host", "", "Listen host for the websocket server")
	flags.Int("port", 0, "Listen port for the websocket server")
	flags.String("data-dir", "", "Data directory for persisted state")
	flags.String("cert", "", "TLS certificate file")
	flags.String("key", "", "TLS key file")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	showVersion := flags.Bool("version", false, "Print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *showVersion {
		fmt.Println("netvigil " + version)
		return exitOK
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfig
	}

	logger.InitLogger(cfg.LogLevel, cfg.Verbose)
	log.Info().Str("version", version).Msg("Starting netvigil agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DataDir, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open data directory")
		return exitConfig
	}
	defer st.Close()
	st.RotateExports(7)

	hostProbe := probe.NewSystemProbe(cfg.Monitor.ProcessTimeout)
	if err := hostProbe.CheckPrivilege(ctx); err != nil {
		log.Error().Err(err).Msg("Insufficient privileges to enumerate sockets")
		return exitPrivilege
	}

	bl, err := blocklist.Load(st.BlocklistPath(), log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load blocklist")
		return exitConfig
	}

	// The loader's failure hook feeds the monitor's alert queue; the
	// monitor needs the loader, so the hook resolves it lazily.
	var mon *monitor.Monitor
	loader := intel.NewLoader(st.IntelDir(), cfg.Intel.SuspiciousPorts, cfg.Intel.ReloadInterval, log.Logger, func(err error) {
		if mon != nil {
			mon.CorpusReloadFailed(err)
		}
	})
	if err := loader.Load(); err != nil {
		log.Error().Err(err).Msg("Failed to load threat intelligence corpus")
		return exitConfig
	}

	engine := intel.NewEngine(cfg.Intel.AllowRoots, cfg.Sampler.EncryptedPorts)
	resolver := probe.NewResolver(cfg.Monitor.ResolverTimeout, cfg.Monitor.ResolverTTL)
	mon = monitor.New(cfg.Monitor, cfg.Sampler, hostProbe, resolver, engine, loader, bl, st, clock.New(), log.Logger)
	collector := metrics.NewCollector(hostProbe, cfg.Metrics.SampleInterval, cfg.Metrics.WindowSize, log.Logger)
	broadcaster := hub.New(cfg.Hub, version, mon, collector, bl, st, log.Logger)

	listener, err := hub.Listen(cfg.ListenAddr())
	if err != nil {
		if errors.Is(err, hub.ErrPortInUse) {
			log.Error().Str("addr", cfg.ListenAddr()).Msg("Listen address already in use")
			return exitPortInUse
		}
		log.Error().Err(err).Str("addr", cfg.ListenAddr()).Msg("Failed to listen")
		return exitConfig
	}

	// The hub outlives the workers slightly so shutdown can drain client
	// queues before the monitor stops feeding them.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); mon.Run(ctx) }()
	go func() { defer wg.Done(); collector.Run(ctx) }()
	go func() { defer wg.Done(); loader.Watch(ctx) }()
	go func() { defer wg.Done(); broadcaster.Run(hubCtx) }()

	srv := &http.Server{Handler: broadcaster}
	serveErr := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			serveErr <- srv.ServeTLS(listener, cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serveErr <- srv.Serve(listener)
		}
	}()
	log.Info().Str("addr", cfg.ListenAddr()).Bool("tls", cfg.TLSEnabled()).Msg("Websocket server listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server failed")
		stop()
	}

	// Ordered shutdown: stop accepting, give in-flight writes a drain
	// window, disconnect clients, then stop the workers and persist.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	stopHub()
	wg.Wait()

	if err := bl.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to persist blocklist")
	}
	st.RotateExports(7)

	log.Info().Msg("netvigil agent stopped")
	return exitOK
}
