package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/biomet-dash/internal/biomet"
	"github.com/shaunagostinho/biomet-dash/internal/server"
	"github.com/shaunagostinho/biomet-dash/internal/session"
	"github.com/shaunagostinho/biomet-dash/internal/transport"
	"github.com/shaunagostinho/biomet-dash/web"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	demo := flag.Bool("demo", false, "Start in test mode with synthetic data")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	portPath := flag.String("port", "", "Override serial port (e.g. /dev/ttyUSB0)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] biometdash starting")

	// Load config
	cfg := server.LoadConfig(*configPath)

	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *portPath != "" {
		cfg.Serial.PortPath = *portPath
	}
	if *demo {
		cfg.TestMode.Enabled = true
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	serialCfg := cfg.SerialSettings()
	tr := transport.NewSerial(transport.SerialConfig{
		PortPath: serialCfg.PortPath,
		BaudRate: serialCfg.BaudRate,
	})

	srv := server.New(cfg, web.FS)
	srv.OnConfigChange(func(c *server.Config) {
		sc := c.SerialSettings()
		tr.Configure(transport.SerialConfig{PortPath: sc.PortPath, BaudRate: sc.BaudRate})
	})
	sess := session.New(tr, session.Options{
		Interval:        cfg.PollInterval(),
		ReadTimeout:     cfg.ReadTimeout(),
		Capacity:        cfg.Acquisition.HistorySize,
		DisableTestMode: !cfg.TestMode.Enabled,
		Synthetic:       biomet.NewSynthetic(nil),
		OnStateChange:   srv.StatusChanged,
		OnPollError:     srv.PollFailed,
	})
	defer sess.Close()
	srv.Attach(sess)

	switch {
	case *demo:
		if err := sess.StartTestMode(); err != nil {
			log.Printf("[main] test mode: %v", err)
		}
	case serialCfg.AutoConnect:
		// Non-blocking, the dashboard starts regardless
		go connectWithRetry(ctx, sess, 10)
	}

	// Start server, works immediately even if the datalogger is still connecting
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. It gives up as soon as the
// session leaves Disconnected by other means (test mode, API connect).
func connectWithRetry(ctx context.Context, sess *session.Session, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if sess.State() != session.Disconnected {
			return
		}

		err := sess.Connect(ctx)
		if err == nil {
			log.Printf("[main] connected successfully (attempt %d)", attempt+1)
			return
		}
		if errors.Is(err, session.ErrAlreadyConnected) || errors.Is(err, session.ErrClosed) {
			return
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[main] connect attempt %d/%d failed: %v (retry in %v)",
				attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[main] connect attempt %d failed: %v (retry in %v)",
				attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
