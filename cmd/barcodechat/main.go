package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omochice/barcodechat/internal/config"
	"github.com/omochice/barcodechat/internal/console"
	"github.com/omochice/barcodechat/internal/session"
	"github.com/omochice/barcodechat/internal/statusapi"
)

func main() {
	// Parse command-line flags
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	host := flag.Int("host", 0, "Host a chat on this port")
	join := flag.String("join", "", "Join a host at HOST:PORT")
	wsPort := flag.Int("ws-port", 0, "Also accept WebSocket peers on this port while hosting")
	transport := flag.String("transport", "", "Transport used to join: tcp or ws")
	format := flag.String("format", "", "Record encoding: json or proto")
	statusAddr := flag.String("status-addr", "", "Serve the status API on this address (e.g., 127.0.0.1:8080)")
	logFile := flag.String("log-file", "", "Write logs to this file instead of stderr")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags win over the environment
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Port = *host
		case "join":
			h, p, err := splitTarget(*join)
			if err != nil {
				flagErr = err
				return
			}
			cfg.RemoteHost, cfg.RemotePort = h, p
		case "ws-port":
			cfg.WSPort = *wsPort
		case "transport":
			cfg.Transport = *transport
		case "format":
			cfg.Format = *format
		case "status-addr":
			cfg.StatusAddr = *statusAddr
		}
	})
	if flagErr != nil {
		log.Fatalf("Invalid -join value: %v", flagErr)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var logOut io.Writer = os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := cfg.NewLogger(logOut)

	con, err := console.New(console.DefaultPrompt)
	if err != nil {
		log.Fatalf("Failed to start console: %v", err)
	}
	defer con.Close()

	mgr, err := session.New(cfg, session.WithSink(con), session.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer mgr.Close()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           statusapi.NewRouter(mgr, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status api listening", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status api failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status api shutdown failed", "error", err)
			}
		}()
	}

	switch {
	case cfg.Port != 0:
		if err := mgr.BecomeHost(ctx, cfg.Port); err != nil {
			con.Errorln(err)
		}
	case cfg.RemotePort != 0:
		if err := mgr.BecomePeer(ctx, cfg.RemoteHost, cfg.RemotePort); err != nil {
			con.Errorln(err)
		}
	default:
		con.Println("type /help for commands")
	}

	if err := con.Run(ctx, mgr); err != nil {
		logger.Error("console stopped", "error", err)
	}
}

func splitTarget(s string) (string, int, error) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return h, port, nil
}
