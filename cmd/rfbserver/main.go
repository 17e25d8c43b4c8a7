// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// rfbserver is a standalone RFB/VNC server demo: it accepts connections on
// a TCP listener, drives each one through vnc.Session, and paints an
// animated test pattern as its framebuffer. It exists to exercise the
// session core end to end — handshake, input, resize, and the update pump
// — against a real client, and to demonstrate wiring the core's metrics
// and tracing collectors into a host process.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	vnc "github.com/cosminvlad/remoteviewing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rfbserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		listenAddress  string
		desktopName    string
		metricsAddress string
		width          int
		height         int
		promptPassword bool
		pixelFormat    string
	)

	flagSet := pflag.NewFlagSet("rfbserver", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML server config file")
	flagSet.StringVar(&listenAddress, "listen", ":5900", "address to accept RFB connections on")
	flagSet.StringVar(&desktopName, "desktop-name", "RFB Session", "desktop name advertised to clients")
	flagSet.StringVar(&metricsAddress, "metrics-listen", "", "address to serve Prometheus metrics on (disabled if empty)")
	flagSet.IntVar(&width, "width", 1024, "demo framebuffer width in pixels")
	flagSet.IntVar(&height, "height", 768, "demo framebuffer height in pixels")
	flagSet.BoolVar(&promptPassword, "password", false, "prompt for a VNC password at startup")
	flagSet.StringVar(&pixelFormat, "pixel-format", "rgba32", "demo framebuffer pixel format: rgba32, rgb565, rgb555, or indexed8")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg := vnc.DefaultServerConfig()
	if configPath != "" {
		loaded, err := vnc.LoadServerConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ListenAddress = listenAddress
	cfg.DesktopName = desktopName
	if metricsAddress != "" {
		cfg.MetricsAddress = metricsAddress
	}

	if promptPassword {
		password, err := readPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := &vnc.StandardLogger{}
	metrics := vnc.NewMetrics()
	tracer := vnc.NewTracer()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, logger)
	}

	format, err := pixelFormatByName(pixelFormat)
	if err != nil {
		return err
	}

	source := newPatternSource(width, height, format)
	source.resizeSoon(30*time.Second, width+128, height+128)

	return serveRFB(ctx, cfg, source, metrics, tracer, logger)
}

func serveRFB(ctx context.Context, cfg *vnc.ServerConfig, source *patternSource, metrics *vnc.Metrics, tracer *vnc.Tracer, logger vnc.Logger) error {
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	defer listener.Close()

	logger.Info("rfbserver listening", vnc.Field{Key: "address", Value: cfg.ListenAddress})

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go acceptConnection(conn, cfg, source, metrics, tracer, logger)
	}
}

func acceptConnection(conn net.Conn, cfg *vnc.ServerConfig, source *patternSource, metrics *vnc.Metrics, tracer *vnc.Tracer, logger vnc.Logger) {
	opts := append(cfg.Options(logger, nil), vnc.WithMetrics(metrics), vnc.WithTracer(tracer))
	session := vnc.NewSession(conn, source, opts...)

	if err := session.Serve(); err != nil {
		logger.Warn("session ended with error",
			vnc.Field{Key: "session_id", Value: session.ID()},
			vnc.Field{Key: "error", Value: err})
	}
}

func serveMetrics(ctx context.Context, address string, logger vnc.Logger) {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: address, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	logger.Info("metrics listening", vnc.Field{Key: "address", Value: address})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server failed", vnc.Field{Key: "error", Value: err})
	}
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "VNC password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}
