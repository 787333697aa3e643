package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"playersync/logging"
	"playersync/protocol"
	"playersync/transport"
)

// Server 把会话表接到数据报传输上：解码入站消息、路由到会话表、编码并发送回复，
// 同时驱动广播与清理两个独立的周期任务。
type Server struct {
	cfg    Config
	binder transport.Binder
	table  *Table
	log    *zap.SugaredLogger
	now    func() time.Time

	mu sync.Mutex
	ep transport.Endpoint
}

// New 组装服务端；会话表与传输都由调用方显式传入
func New(cfg Config, binder transport.Binder, table *Table, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		binder: binder,
		table:  table,
		log:    logging.OrNop(log),
		now:    time.Now,
	}
}

// Table 返回服务端使用的会话表
func (s *Server) Table() *Table { return s.table }

// Listen 绑定传输端点并开始接收
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep != nil {
		return nil
	}
	ep, err := s.binder.Bind(s.cfg.Addr, s.handleDatagram, s.handleTransportError)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	s.ep = ep
	s.log.Infof("session server listening on %s", ep.LocalAddr())
	return nil
}

// LocalAddr 已绑定的地址；未绑定时为空
func (s *Server) LocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep == nil {
		return ""
	}
	return s.ep.LocalAddr()
}

// Run 绑定并运行到 ctx 结束；退出前通知在线会话并关闭端点
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.broadcastLoop(ctx) })
	g.Go(func() error { return s.reapLoop(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) shutdown() {
	s.send(s.table.ShutdownNotices(s.now()))
	s.mu.Lock()
	ep := s.ep
	s.ep = nil
	s.mu.Unlock()
	if ep != nil {
		_ = ep.Close()
	}
	s.log.Info("session server stopped")
}

// handleDatagram 单个数据报的处理：解码失败只记录并丢弃，绝不影响其他会话
func (s *Server) handleDatagram(from string, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		s.table.metrics.IncDecodeErrors()
		s.log.Debugw("discarding undecodable datagram", "from", from, "error", err)
		return
	}
	now := s.now()

	var out []Outbound
	switch m := msg.(type) {
	case *protocol.Login:
		out = s.table.HandleLogin(from, m, now)
	case *protocol.Heartbeat:
		out = s.table.HandleHeartbeat(from, m, now)
	case *protocol.PlayerMove:
		out = s.table.HandlePlayerMove(from, m, now)
	case *protocol.PlayerAction:
		out = s.table.HandlePlayerAction(from, m, now)
	default:
		s.table.metrics.IncUnexpected()
		s.log.Debugw("ignoring server-bound message of client type", "from", from, "type", msg.Type())
		return
	}
	s.send(out)
}

func (s *Server) handleTransportError(err error) {
	s.log.Warnw("transport error", "error", err)
}

// send 在会话表锁之外编码并发送，发送是即发即弃的
func (s *Server) send(out []Outbound) {
	if len(out) == 0 {
		return
	}
	s.mu.Lock()
	ep := s.ep
	s.mu.Unlock()
	if ep == nil {
		return
	}
	for _, o := range out {
		data, err := protocol.Encode(o.Msg)
		if err != nil {
			s.log.Errorw("failed to encode outbound message", "to", o.To, "type", o.Msg.Type(), "error", err)
			continue
		}
		if err := ep.Send(o.To, data); err != nil {
			s.table.metrics.IncSendErrors()
			s.log.Debugw("send failed", "to", o.To, "type", o.Msg.Type(), "error", err)
		}
	}
}
