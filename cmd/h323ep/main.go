// Команда h323ep запускает конечную точку H.323: регистрацию у
// гейткипера, прием и исходящие вызовы, экспорт метрик.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arzzra/h323ep/pkg/cdr"
	"github.com/arzzra/h323ep/pkg/config"
	"github.com/arzzra/h323ep/pkg/endpoint"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	"github.com/arzzra/h323ep/pkg/h323/channels"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/media"
	"github.com/arzzra/h323ep/pkg/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "Config file (.yaml, .yml, .conf, .ini)")
		logLevel   = flag.String("log-level", "", "Override log level: trace, debug, info, warn, error")
		dial       = flag.String("call", "", "Place a call on startup: alias@host[:port], host[:port] or alias")
		duration   = flag.Duration("duration", 0, "Hang up the startup call after this duration")
	)
	flag.Parse()

	if err := run(*configPath, *logLevel, *dial, *duration); err != nil {
		fmt.Fprintf(os.Stderr, "h323ep: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel, dial string, duration time.Duration) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	root, err := logging.New(cfg.Logging.Options())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer root.Close()
	log := root.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []endpoint.Option{
		endpoint.WithLogger(log),
		endpoint.WithCallbacks(callbacks(log)),
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})
		opts = append(opts, endpoint.WithMetrics(collector))
	}

	if cfg.CDR.Path != "" {
		store, err := cdr.OpenSQLite(ctx, cfg.CDR.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, endpoint.WithRecorder(store))
	}

	caps, err := capabilities(cfg, log)
	if err != nil {
		return err
	}

	ec, err := cfg.EndpointConfig()
	if err != nil {
		return err
	}
	ep, err := endpoint.New(ctx, ec, caps, opts...)
	if err != nil {
		return fmt.Errorf("failed to start endpoint: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ep.Run(gctx)
		stop()
		return err
	})

	if collector != nil {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux(collector)}
		g.Go(func() error {
			log.Info("metrics server listening", logging.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if dial != "" {
		g.Go(func() error { return placeCall(gctx, ep, log, dial, duration) })
	}

	return g.Wait()
}

// capabilities таблица медиа возможностей в порядке из конфигурации
func capabilities(cfg *config.Config, log logging.Logger) (*capability.Table, error) {
	table := capability.NewTable()
	for _, name := range cfg.Media.Codecs {
		law := media.ULaw
		if name == "g711alaw" {
			law = media.ALaw
		}
		g711 := media.NewG711(media.G711Config{Law: law, Ptime: cfg.Media.Ptime, TOS: cfg.Media.TOS}, log)
		if err := table.Add(g711); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func metricsMux(c *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return mux
}

func callbacks(log logging.Logger) channels.Callbacks {
	return channels.Callbacks{
		OnIncomingCall: func(s call.Snapshot) {
			log.Info("incoming call", logging.String("call", s.Token),
				logging.String("from", s.RemoteAliases.String()), logging.String("to", s.Destination))
		},
		OnCallEstablished: func(s call.Snapshot) {
			log.Info("call established", logging.String("call", s.Token))
		},
		OnCallCleared: func(s call.Snapshot) {
			log.Info("call cleared", logging.String("call", s.Token), logging.Stringer("reason", s.EndReason))
		},
		OnDigits: func(token, digits string) {
			log.Info("digits received", logging.String("call", token), logging.String("digits", digits))
		},
	}
}

// placeCall выполняет исходящий вызов после старта и при заданной
// длительности завершает его
func placeCall(ctx context.Context, ep *endpoint.Endpoint, log logging.Logger, dest string, d time.Duration) error {
	// команды до завершения регистрации отбрасываются
	for ep.RegistrationPending() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}

	token, err := ep.MakeCall(ctx, dest, channels.CallOptions{})
	if err != nil {
		log.Error("failed to place call", logging.String("dest", dest), logging.Err(err))
		return nil
	}
	log.Info("calling", logging.String("call", token), logging.String("dest", dest))
	if d <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
	case <-time.After(d):
		if err := ep.HangCall(ctx, token, call.ReasonLocalCleared); err != nil {
			log.Warn("failed to hang up", logging.String("call", token), logging.Err(err))
		}
	}
	return nil
}
