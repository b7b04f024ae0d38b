// Command citadeld runs the Citadel server: the line protocol listener,
// the REST gateway, and (optionally) a Prometheus exposition endpoint,
// grounded on cmd/spilld/main.go minus its autocert branch (TLS
// certificate management is an explicit non-goal here).
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"crawshaw.io/iox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"citadel.dev/internal/config"
	"citadel.dev/internal/ctdlproto"
	"citadel.dev/internal/gateway"
	"citadel.dev/internal/logging"
	"citadel.dev/internal/metrics"
	"citadel.dev/internal/msgstore"
	"citadel.dev/internal/roommodel"
	"citadel.dev/internal/rules"
	"citadel.dev/internal/sessionpool"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	log.SetFlags(0)

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatal(err)
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logf, syncLog, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer syncLog()

	logf("citadeld, version %s, starting at %s", version, time.Now())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal(err)
	}

	filer := iox.NewFiler(0)
	tempdir, err := os.MkdirTemp("", "citadeld-")
	if err != nil {
		log.Fatal(err)
	}
	filer.SetTempdir(tempdir)

	rooms, err := roommodel.Open(filepath.Join(cfg.DataDir, "rooms.db"), cfg.Limits.SessionPoolCap)
	if err != nil {
		log.Fatal(err)
	}
	rooms.Logf = logf

	msgs, err := msgstore.Open(filepath.Join(cfg.DataDir, "messages.db"), cfg.Limits.SessionPoolCap, rooms)
	if err != nil {
		log.Fatal(err)
	}

	ruleStore, err := rules.Open(filepath.Join(cfg.DataDir, "rules.db"), cfg.Limits.SessionPoolCap)
	if err != nil {
		log.Fatal(err)
	}

	var collector metrics.Collector = metrics.Noop{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		collector = metrics.NewPrometheusCollector(reg)
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logf("metrics: listening on %s%s", cfg.Metrics.Address, cfg.Metrics.Path)
			if err := http.ListenAndServe(cfg.Metrics.Address, mux); err != nil && err != http.ErrServerClosed {
				logf("metrics: serve error: %v", err)
			}
		}()
	}

	// Each listener gets its own Server (independent accept-loop state,
	// same underlying stores), since Server.Serve is built to own a
	// single net.Listener's lifecycle, the same split imapserver.Server
	// makes between IMAP and IMAPS listeners.
	confVals := map[string]string{
		"default_header_charset": "UTF-8",
		"EnableSplice":           "0",
		"ZLibCompressionRatio":   "9",
		"HTTP_PORT":              cfg.HTTP.Address,
		"HTTPS_PORT":             cfg.HTTP.Address,
		"node_name":              cfg.NodeName,
	}

	sharedThrottle := &ctdlproto.Throttle{}
	newServer := func() *ctdlproto.Server {
		return &ctdlproto.Server{
			NodeName:       cfg.NodeName,
			MaxConns:       cfg.Limits.MaxConnections,
			Filer:          filer,
			Logf:           logf,
			Metrics:        collector,
			Rooms:          rooms,
			Msgs:           msgs,
			Rules:          ruleStore,
			Throttle:       sharedThrottle,
			SessionTimeout: cfg.Timeouts.SessionTimeout(),
			ConfVals:       confVals,
		}
	}

	var servers []*ctdlproto.Server
	var wg sync.WaitGroup
	for _, l := range cfg.Listeners {
		ln, err := net.Listen(l.Network, l.Address)
		if err != nil {
			log.Fatal(err)
		}
		logf("ctdlproto: listening on %s %s", l.Network, ln.Addr())
		srv := newServer()
		servers = append(servers, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ln); err != nil && err != ctdlproto.ErrServerClosed {
				logf("ctdlproto: serve error: %v", err)
			}
		}()
	}

	adminSocket := filepath.Join(cfg.DataDir, "citadel.socket")
	os.Remove(adminSocket)
	adminLn, err := net.Listen("unix", adminSocket)
	if err != nil {
		log.Fatal(err)
	}
	adminSrv := newServer()
	servers = append(servers, adminSrv)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminSrv.Serve(adminLn); err != nil && err != ctdlproto.ErrServerClosed {
			logf("ctdlproto: admin socket serve error: %v", err)
		}
	}()

	pool := sessionpool.New(adminSocket)
	gw := &gateway.Gateway{Pool: pool}
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: gw.NewRouter(),
	}
	go func() {
		logf("gateway: listening on %s", cfg.HTTP.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf("gateway: serve error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		cancel()
	}()
	<-ctx.Done()

	logf("citadeld: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	httpServer.Shutdown(shutdownCtx)
	for _, s := range servers {
		s.Shutdown(shutdownCtx)
	}

	if err := filer.Shutdown(shutdownCtx); err != nil {
		logf("citadeld: filer shutdown error: %v", err)
	}
	msgs.Close()
	rooms.Close()
	ruleStore.Close()
	logf("citadeld: shut down")
}
