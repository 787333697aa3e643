package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"playersync/logging"
	"playersync/transport"
)

// Admin 管理与监控接口
type Admin struct {
	table   *Table
	latency *transport.Latency // 为 nil 表示未启用延迟模拟
	log     *zap.SugaredLogger
}

// NewAdmin 创建管理接口
func NewAdmin(table *Table, latency *transport.Latency, log *zap.SugaredLogger) *Admin {
	return &Admin{table: table, latency: latency, log: logging.OrNop(log)}
}

// Handler 注册全部管理路由
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("/admin/sessions", a.HandleSessions)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type latencyConfig struct {
	SimulateDelayMinMs *int64   `json:"simulateDelayMinMs,omitempty"`
	SimulateDelayMaxMs *int64   `json:"simulateDelayMaxMs,omitempty"`
	SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`
	SimulateDupProb    *float64 `json:"simulateDupProb,omitempty"`
}

// HandleConfig 读取与热更新模拟网络参数
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if a.latency == nil {
		http.Error(w, "latency simulation disabled", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, toLatencyConfig(a.latency.Settings()))
	case http.MethodPost:
		var body latencyConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		s := a.latency.Settings()
		if body.SimulateDelayMinMs != nil {
			s.Min = time.Duration(*body.SimulateDelayMinMs) * time.Millisecond
		}
		if body.SimulateDelayMaxMs != nil {
			s.Max = time.Duration(*body.SimulateDelayMaxMs) * time.Millisecond
		}
		if body.SimulateDropProb != nil {
			s.DropProb = *body.SimulateDropProb
		}
		if body.SimulateDupProb != nil {
			s.DupProb = *body.SimulateDupProb
		}
		s = a.latency.Update(s)
		a.log.Infof("config updated: delay=[%s,%s] drop=%.2f dup=%.2f", s.Min, s.Max, s.DropProb, s.DupProb)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": toLatencyConfig(s)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func toLatencyConfig(s transport.LatencySettings) latencyConfig {
	minMs, maxMs := s.Min.Milliseconds(), s.Max.Milliseconds()
	return latencyConfig{
		SimulateDelayMinMs: &minMs,
		SimulateDelayMaxMs: &maxMs,
		SimulateDropProb:   &s.DropProb,
		SimulateDupProb:    &s.DupProb,
	}
}

// HandleMetrics 输出会话表运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": a.table.SessionCount(),
		"metrics":  a.table.Metrics().Snapshot(),
	})
}

// HandleSessions 输出在线会话的心跳与位置，便于排查失联问题
// GET /admin/sessions
func (a *Admin) HandleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.table.Sessions(time.Now()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
