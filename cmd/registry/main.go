// Integration Bus Registry
//
// Standalone bootstrap process for the Integration Bus VAsio-style
// participant mesh. Every participant announces to this process once and
// learns the already-connected peer set; the registry is off the
// critical path once every pair has a direct connection (§4.1).
//
// Usage:
//
//	go run ./cmd/registry                    # Default :8500
//	go run ./cmd/registry -addr :9000        # Custom port
//	go build -o ibus-registry ./cmd/registry && ./ibus-registry
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibsim/ibus/engine/observability"
	"github.com/ibsim/ibus/engine/transport"
)

// stdLogger implements model.Logger using the standard library log package.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	addr := flag.String("addr", ":8500", "registry listen address")
	dashboardAddr := flag.String("dashboard-addr", "", "optional dashboard HTTP/WebSocket listen address (disabled if empty)")
	traceCollector := flag.String("trace-collector", "", "optional OTLP/HTTP collector host:port for tracing (disabled if empty)")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("registry_starting", "address", *addr)

	if *traceCollector != "" {
		shutdown, err := observability.InitTracer("ibus-registry", *traceCollector)
		if err != nil {
			log.Fatalf("failed to initialize tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", "error", err.Error())
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := transport.NewRegistry(logger)

	var dashboardServer *http.Server
	if *dashboardAddr != "" {
		dashboard := transport.NewDashboard(logger)
		registry.SetDashboard(dashboard)

		mux := http.NewServeMux()
		mux.Handle("/ws", dashboard)
		dashboardServer = &http.Server{Addr: *dashboardAddr, Handler: mux}
		go func() {
			if err := dashboardServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("dashboard server stopped", "error", err.Error())
			}
		}()
		logger.Info("dashboard_starting", "address", *dashboardAddr)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- registry.ListenAndServe(ctx, *addr)
	}()

	fmt.Printf("\nIntegration Bus registry listening on %s\n", *addr)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
		<-serveErr
	case err := <-serveErr:
		if err != nil {
			log.Fatalf("registry stopped: %v", err)
		}
	}

	if dashboardServer != nil {
		dashboardServer.Close()
	}

	logger.Info("registry_stopped")
}
