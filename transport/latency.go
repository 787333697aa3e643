package transport

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// LatencySettings 模拟网络参数（仅测试/开发环境使用）
type LatencySettings struct {
	Min      time.Duration // 最小单向延迟
	Max      time.Duration // 最大单向延迟
	DropProb float64       // 丢包概率 [0,1]
	DupProb  float64       // 重复投递概率 [0,1]
}

// DefaultLatencySettings 20-100ms 随机延迟，不丢包
func DefaultLatencySettings() LatencySettings {
	return LatencySettings{Min: 20 * time.Millisecond, Max: 100 * time.Millisecond}
}

func (s LatencySettings) normalized() LatencySettings {
	if s.Min < 0 {
		s.Min = 0
	}
	if s.Max < s.Min {
		s.Max = s.Min
	}
	s.DropProb = clamp01(s.DropProb)
	s.DupProb = clamp01(s.DupProb)
	return s
}

func (s LatencySettings) passthrough() bool {
	return s.Max == 0 && s.DropProb == 0 && s.DupProb == 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Latency 可在运行期修改的延迟配置（管理接口热更新）
type Latency struct {
	mu       sync.RWMutex
	settings LatencySettings
}

// NewLatency 创建延迟配置
func NewLatency(s LatencySettings) *Latency {
	return &Latency{settings: s.normalized()}
}

// Settings 返回当前配置
func (l *Latency) Settings() LatencySettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// Update 替换配置，返回规范化后的结果
func (l *Latency) Update(s LatencySettings) LatencySettings {
	s = s.normalized()
	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()
	return s
}

// WithLatency 在任意 Binder 之上叠加随机延迟、丢包与重复投递（作用于发送方向）
func WithLatency(inner Binder, latency *Latency, rng *rand.Rand) Binder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	lb := &latencyBinder{inner: inner, latency: latency, rng: rng}
	return lb
}

type latencyBinder struct {
	inner   Binder
	latency *Latency

	mu  sync.Mutex // rand.Rand 非并发安全
	rng *rand.Rand
}

func (b *latencyBinder) Bind(addr string, recv Receiver, onErr ErrorHandler) (Endpoint, error) {
	ep, err := b.inner.Bind(addr, recv, onErr)
	if err != nil {
		return nil, err
	}
	return &latencyEndpoint{Endpoint: ep, binder: b, onErr: onErr}, nil
}

// plan 决定一个数据报的投递次数与各自延迟；返回空表示丢弃
func (b *latencyBinder) plan(s LatencySettings) []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.DropProb > 0 && b.rng.Float64() < s.DropProb {
		return nil
	}
	copies := 1
	if s.DupProb > 0 && b.rng.Float64() < s.DupProb {
		copies = 2
	}
	delays := make([]time.Duration, copies)
	for i := range delays {
		delays[i] = s.Min
		if span := s.Max - s.Min; span > 0 {
			delays[i] += time.Duration(b.rng.Int63n(int64(span) + 1))
		}
	}
	return delays
}

type latencyEndpoint struct {
	Endpoint
	binder *latencyBinder
	onErr  ErrorHandler

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

func (e *latencyEndpoint) Send(to string, payload []byte) error {
	s := e.binder.latency.Settings()
	if s.passthrough() {
		return e.Endpoint.Send(to, payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	for _, d := range e.binder.plan(s) {
		var t *time.Timer
		t = time.AfterFunc(d, func() {
			e.mu.Lock()
			delete(e.timers, t)
			e.mu.Unlock()
			if err := e.Endpoint.Send(to, buf); err != nil && !errors.Is(err, ErrClosed) && e.onErr != nil {
				e.onErr(err)
			}
		})
		if e.timers == nil {
			e.timers = make(map[*time.Timer]struct{})
		}
		e.timers[t] = struct{}{}
	}
	return nil
}

func (e *latencyEndpoint) Resolve(addr string) (string, error) {
	return ResolvePeer(e.Endpoint, addr)
}

// Close 取消所有在途的延迟发送后关闭底层端点
func (e *latencyEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	for t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.mu.Unlock()
	return e.Endpoint.Close()
}
