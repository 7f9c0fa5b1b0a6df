// Package metrics 收集消息引擎的运行指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 引擎指标集
//
// 所有指标注册在构造时传入的 Registerer 上，互不共享全局状态，
// 测试可各自使用独立注册表。
type Metrics struct {
	packagesSent     *prometheus.CounterVec
	packagesReceived *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	dispatchOutcomes *prometheus.CounterVec
	handlerDuration  prometheus.Histogram
}

// New 创建指标集并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "transport",
				Name:      "packages_sent_total",
				Help:      "Packages written to the wire.",
			},
			[]string{"binding"},
		),
		packagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "transport",
				Name:      "packages_received_total",
				Help:      "Packages decoded from the wire.",
			},
			[]string{"binding"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "transport",
				Name:      "decode_errors_total",
				Help:      "Inbound frames dropped as undecodable.",
			},
			[]string{"binding"},
		),
		dispatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "dispatch",
				Name:      "outcomes_total",
				Help:      "Dispatched packages by outcome.",
			},
			[]string{"outcome"},
		),
		handlerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "courier",
				Subsystem: "dispatch",
				Name:      "handler_duration_seconds",
				Help:      "Handler execution time in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(
		m.packagesSent,
		m.packagesReceived,
		m.decodeErrors,
		m.dispatchOutcomes,
		m.handlerDuration,
	)
	return m
}

// NewNop 创建写入废弃注册表的指标集
//
// 指标禁用或测试场景下使用，调用开销与正常指标集相同。
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// PackageSent 记录一次出站包
func (m *Metrics) PackageSent(binding string) {
	m.packagesSent.WithLabelValues(binding).Inc()
}

// PackageReceived 记录一次入站包
func (m *Metrics) PackageReceived(binding string) {
	m.packagesReceived.WithLabelValues(binding).Inc()
}

// DecodeError 记录一次入站解码失败
func (m *Metrics) DecodeError(binding string) {
	m.decodeErrors.WithLabelValues(binding).Inc()
}

// 分发结果标签
const (
	OutcomeHandled        = "handled"
	OutcomeReplied        = "replied"
	OutcomeResolved       = "resolved"
	OutcomeDiscarded      = "discarded"
	OutcomeUnknownHandler = "unknown_handler"
	OutcomeHandlerError   = "handler_error"
	OutcomePanic          = "panic"
)

// DispatchOutcome 记录一次分发结果
func (m *Metrics) DispatchOutcome(outcome string) {
	m.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveHandler 记录处理器执行耗时
func (m *Metrics) ObserveHandler(d time.Duration) {
	m.handlerDuration.Observe(d.Seconds())
}
