package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"playersync/logging"
	"playersync/server"
	"playersync/transport"
)

type serveOptions struct {
	addr        string
	transport   string
	wsPath      string
	adminAddr   string
	maxSessions int64
	simulate    bool
	latency     transport.LatencySettings
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}
	def := server.DefaultConfig()
	lat := transport.DefaultLatencySettings()
	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", envOr("PLAYERSYNC_ADDR", def.Addr), "datagram listen address, e.g. :8888")
	f.StringVar(&opts.transport, "transport", "udp", "datagram transport: udp or ws")
	f.StringVar(&opts.wsPath, "ws-path", "/ws", "websocket upgrade path when --transport=ws")
	f.StringVar(&opts.adminAddr, "admin-addr", envOr("PLAYERSYNC_ADMIN_ADDR", ":8080"), "admin/metrics HTTP address (empty disables)")
	f.Int64Var(&opts.maxSessions, "max-sessions", def.MaxSessions, "maximum concurrent sessions")
	f.BoolVar(&opts.simulate, "simulate-latency", false, "delay, drop and duplicate outbound datagrams")
	f.DurationVar(&opts.latency.Min, "delay-min", lat.Min, "minimum simulated delay")
	f.DurationVar(&opts.latency.Max, "delay-max", lat.Max, "maximum simulated delay")
	f.Float64Var(&opts.latency.DropProb, "drop-prob", 0, "simulated drop probability")
	f.Float64Var(&opts.latency.DupProb, "dup-prob", 0, "simulated duplicate probability")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	log, err := root.logger()
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	var binder transport.Binder
	switch opts.transport {
	case "udp":
		binder = transport.UDP{}
	case "ws":
		binder = transport.WebSocketServer{Path: opts.wsPath}
	default:
		return fmt.Errorf("unknown transport %q (want udp or ws)", opts.transport)
	}

	// 模拟网络：参数可通过 /admin/config 热更新
	var latency *transport.Latency
	if opts.simulate {
		latency = transport.NewLatency(opts.latency)
		binder = transport.WithLatency(binder, latency, rand.New(rand.NewSource(time.Now().UnixNano())))
		s := latency.Settings()
		log.Infof("latency simulation enabled: delay=[%s,%s] drop=%.2f dup=%.2f", s.Min, s.Max, s.DropProb, s.DupProb)
	}

	cfg := server.DefaultConfig()
	cfg.Addr = opts.addr
	cfg.MaxSessions = opts.maxSessions
	table := server.NewTable(cfg, server.WithLogger(log))
	srv := server.New(cfg, binder, table, log)

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })

	if opts.adminAddr != "" {
		httpSrv := &http.Server{
			Addr:              opts.adminAddr,
			Handler:           server.NewAdmin(table, latency, log).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infof("admin listening on %s", opts.adminAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("Shutting down...")
	return err
}
