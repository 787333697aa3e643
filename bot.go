package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"playersync/client"
	"playersync/logging"
	"playersync/protocol"
	"playersync/transport"
)

type botOptions struct {
	server         string
	transport      string
	count          int
	playerPrefix   string
	tick           time.Duration
	actionEvery    int
	spawnInterval  time.Duration
	heartbeat      time.Duration
	reconnectDelay time.Duration
}

func newBotCmd(root *rootOptions) *cobra.Command {
	opts := &botOptions{}
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run headless clients that wander around and use skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBots(cmd.Context(), root, opts)
		},
	}
	def := client.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", envOr("PLAYERSYNC_SERVER", def.ServerAddr), "server address (host:port for udp, ws:// URL for ws)")
	f.StringVar(&opts.transport, "transport", "udp", "datagram transport: udp or ws")
	f.IntVar(&opts.count, "count", 1, "number of bots")
	f.StringVar(&opts.playerPrefix, "player-prefix", "", "fixed player id prefix (empty lets the server assign ids)")
	f.DurationVar(&opts.tick, "tick", def.MoveInterval, "movement tick")
	f.IntVar(&opts.actionEvery, "action-every", 20, "use a random skill or item every N ticks")
	f.DurationVar(&opts.spawnInterval, "spawn-interval", 10*time.Millisecond, "delay between bot starts")
	f.DurationVar(&opts.heartbeat, "heartbeat", def.HeartbeatInterval, "heartbeat interval")
	f.DurationVar(&opts.reconnectDelay, "reconnect-delay", def.ReconnectDelay, "delay before each reconnect attempt")
	return cmd
}

func runBots(ctx context.Context, root *rootOptions, opts *botOptions) error {
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
		binder = transport.WebSocketDialer{URL: opts.server}
	default:
		return fmt.Errorf("unknown transport %q (want udp or ws)", opts.transport)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.count; i++ {
		i := i
		g.Go(func() error {
			runBot(ctx, i, binder, opts, log.With("bot", i))
			return nil
		})
		select {
		case <-ctx.Done():
		case <-time.After(opts.spawnInterval): // 连接限速
		}
	}
	err = g.Wait()
	log.Info("bots stopped")
	return err
}

func runBot(ctx context.Context, id int, binder transport.Binder, opts *botOptions, log *zap.SugaredLogger) {
	cfg := client.DefaultConfig()
	cfg.ServerAddr = opts.server
	cfg.HeartbeatInterval = opts.heartbeat
	cfg.ReconnectDelay = opts.reconnectDelay
	cfg.MoveInterval = opts.tick
	if opts.playerPrefix != "" {
		cfg.PlayerID = fmt.Sprintf("%s%d", opts.playerPrefix, id)
	}

	sess := client.New(cfg, binder, client.WithLogger(log))
	lost := make(chan struct{})
	var lostOnce sync.Once
	sess.On(client.EventLoginSuccess, func(m protocol.Message) {
		log.Infow("logged in", "player", m.(*protocol.LoginResponse).PlayerID)
	})
	sess.On(client.EventLoginFailed, func(m protocol.Message) {
		log.Warnw("login rejected", "error", m.(*protocol.LoginResponse).Error)
	})
	sess.On(client.EventPlayerStateUpdate, func(m protocol.Message) {
		u := m.(*protocol.PlayerStateUpdate)
		if u.SkillEffect != nil || u.ItemEffect != nil {
			log.Debugw("action result", "health", u.Health, "skill", u.SkillEffect, "item", u.ItemEffect)
		}
	})
	sess.On(client.EventGameStateUpdate, func(m protocol.Message) {
		log.Debugw("roster", "players", len(m.(*protocol.GameState).Players))
	})
	sess.On(client.EventConnectionLost, func(protocol.Message) {
		lostOnce.Do(func() { close(lost) })
	})

	if err := sess.Connect(); err != nil {
		log.Errorw("connect failed", "error", err)
		return
	}
	defer sess.Disconnect()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	pos := protocol.Vec2{X: rng.Float64() * protocol.WorldWidth, Y: rng.Float64() * protocol.WorldHeight}
	vel := protocol.Vec2{}

	ticker := time.NewTicker(opts.tick)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-lost:
			log.Warn("connection lost, bot exiting")
			return
		case <-ticker.C:
		}
		if sess.State() != client.StateConnected {
			continue
		}

		// 随机游走，出界即反弹
		vel.X = clampf(vel.X+rng.Float64()*2-1, -5, 5)
		vel.Y = clampf(vel.Y+rng.Float64()*2-1, -5, 5)
		pos = protocol.Vec2{X: pos.X + vel.X, Y: pos.Y + vel.Y}
		if pos.X < 0 || pos.X > protocol.WorldWidth {
			vel.X = -vel.X
		}
		if pos.Y < 0 || pos.Y > protocol.WorldHeight {
			vel.Y = -vel.Y
		}
		pos = pos.ClampToWorld()
		sess.SendPlayerMove(pos, vel)

		if opts.actionEvery > 0 && n%opts.actionEvery == 0 {
			if err := randomAction(sess, rng); err != nil {
				log.Debugw("action not sent", "error", err)
			}
		}
	}
}

func randomAction(sess *client.Session, rng *rand.Rand) error {
	state, ok := sess.PlayerState()
	if ok && rng.Intn(3) == 0 {
		for i, it := range state.Inventory {
			if it == nil {
				continue
			}
			if _, consumable := protocol.LookupConsumable(it.ID); consumable {
				return sess.UseItem(it.ID, i)
			}
		}
	}
	skills := protocol.Skills()
	return sess.UseSkill(skills[rng.Intn(len(skills))].ID)
}

func clampf(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
