package server

import (
	"context"
	"time"
)

// broadcastLoop 固定周期广播：每个会话收到自己的完整状态，名单按时间取模附带
func (s *Server) broadcastLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			s.send(s.table.Tick(s.now()))
			s.table.metrics.AddTick(time.Since(start).Nanoseconds())
		}
	}
}

// reapLoop 周期性清理心跳超时的会话
func (s *Server) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := s.table.Reap(s.now()); len(evicted) > 0 {
				s.log.Infof("reaped %d stale sessions", len(evicted))
			}
		}
	}
}
