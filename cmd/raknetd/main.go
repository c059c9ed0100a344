package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raknet/internal/obs"
	"raknet/listener"
	"raknet/session"
	"raknet/wire"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RAKNETD")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "raknetd",
		Short: "raknetd listens for reliable-UDP peers and echoes what it receives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "0.0.0.0:19132", "UDP address to listen on")
	flags.Uint64("guid", 0, "server GUID advertised to unconnected pings (0 picks a random one)")
	flags.String("motd", "raknetd", "message of the day returned to unconnected pings")
	flags.String("log-level", "info", "logrus level: debug, info, warn, error")
	flags.String("metrics-addr", "", "bind address for /metrics (empty disables Prometheus)")
	flags.Duration("ping-interval", session.DefaultPingInterval, "keepalive ping cadence")
	flags.Duration("tick-interval", session.DefaultTickInterval, "per-session tick cadence")

	_ = v.BindPFlags(flags)
	return cmd
}

func run(v *viper.Viper) error {
	log := obs.NewLogger(v.GetString("log-level"))
	obs.Banner("raknetd", version)

	guid := v.GetUint64("guid")
	if guid == 0 {
		guid = uint64(time.Now().UnixNano())
	}

	var reg prometheus.Registerer
	if addr := v.GetString("metrics-addr"); addr != "" {
		registry := prometheus.NewRegistry()
		reg = registry
		go serveMetrics(addr, registry, log)
	}

	cfg := listener.Config{
		GUID: guid,
		MOTD: v.GetString("motd"),
		Session: session.Config{
			PingInterval: v.GetDuration("ping-interval"),
			TickInterval: v.GetDuration("tick-interval"),
			Logger:       log,
		},
		Registerer: reg,
	}

	l, err := listener.Listen(v.GetString("addr"), guid, cfg.MOTD, cfg)
	if err != nil {
		return fmt.Errorf("raknetd: %w", err)
	}
	defer l.Close()

	obs.Success("listening on %s (guid %d)", v.GetString("addr"), guid)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go acceptLoop(ctx, l, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	return nil
}

func acceptLoop(ctx context.Context, l *listener.Listener, log *logrus.Logger) {
	for {
		s, err := l.Accept(ctx)
		if err != nil {
			return
		}
		log.WithField("remote_addr", s.RemoteAddr().String()).Info("accepted session")
		go echo(ctx, s, log)
	}
}

// echo reads every payload a peer sends and writes it straight back,
// reliably and ordered, until the session closes.
func echo(ctx context.Context, s *session.Session, log *logrus.Logger) {
	for {
		b, err := s.Recv(ctx)
		if err != nil {
			return
		}
		if err := s.Send(b, wire.ReliableOrdered); err != nil {
			return
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("addr", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
