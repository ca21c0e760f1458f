// Command pumpgatewayd is the pump gateway's server process: it loads the
// JSON configuration, builds the gateway (loopback or real serial
// transport per server_config.loopback), starts the TCP client listener,
// and, if a monitor address is given, the live status dashboard.
//
// Grounded on the teacher's cmd/server/main.go (flag parsing, dual
// console+file logging via io.MultiWriter) and
// original_source/main.py's top-level wiring of Server+PumpHandler.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basinmed/pumpgateway/internal/config"
	"github.com/basinmed/pumpgateway/internal/gateway"
	"github.com/basinmed/pumpgateway/internal/monitor"
	"github.com/basinmed/pumpgateway/internal/tcp"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the gateway's JSON config")
	addr := flag.String("addr", "", "TCP client listen address, overrides server_config.server_ip:port")
	monitorAddr := flag.String("monitor-addr", "", "dashboard listen address (empty disables the monitor)")
	logFile := flag.String("log-file", "", "path to an additional log file (empty logs to stderr only)")
	flag.Parse()

	logger, closeLog := newLogger(*logFile)
	defer closeLog()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.ServerIP, cfg.Server.Port)
	}

	var dial gateway.Dialer
	if cfg.Server.Loopback {
		dial = gateway.SeededLoopbackDialer(cfg.Pump, rand.New(rand.NewSource(time.Now().UnixNano())))
		logger.Printf("loopback simulator enabled; no real serial ports will be opened")
	} else {
		dial = gateway.SerialDialer(cfg.Pump)
	}

	var dashboard *monitor.Server
	gw := gateway.New(cfg.Pump, cfg.Server.MaxPumps, dial, logger,
		gateway.WithOnSnapshot(func(snap gateway.Snapshot) {
			if dashboard != nil {
				dashboard.Publish(snap)
			}
		}),
	)

	delimiter := byte('!')
	if cfg.Server.CommandDelimiter != "" {
		delimiter = cfg.Server.CommandDelimiter[0]
	}
	server := tcp.New(gw, delimiter, maxInt(cfg.Server.MaxPumps, 1), logger)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Fatalf("listen on %s: %v", listenAddr, err)
	}
	logger.Printf("pumpgatewayd listening for clients on %s", listenAddr)

	go func() {
		if err := server.Serve(ln); err != nil {
			logger.Printf("tcp server stopped: %v", err)
		}
	}()

	var httpServer *http.Server
	if *monitorAddr != "" {
		dashboard = monitor.New(gw)
		httpServer = &http.Server{Addr: *monitorAddr, Handler: dashboard.Handler()}
		go func() {
			logger.Printf("dashboard listening on %s", *monitorAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("dashboard stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Printf("shutting down")
	server.Stop()
	if httpServer != nil {
		_ = httpServer.Close()
	}
}

// newLogger builds a logger writing to stderr and, if path is non-empty,
// also to an appended log file -- the teacher's cmd/server/main.go
// io.MultiWriter pattern.
func newLogger(path string) (*log.Logger, func()) {
	if path == "" {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fallback := log.New(os.Stderr, "", log.LstdFlags)
		fallback.Printf("open log file %s: %v; logging to stderr only", path, err)
		return fallback, func() {}
	}
	out := io.MultiWriter(os.Stderr, f)
	return log.New(out, "", log.LstdFlags), func() { _ = f.Close() }
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
