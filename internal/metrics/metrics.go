package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// VoteMetrics 投票与广播相关的Prometheus指标。
// 指标在构造函数里用promauto注册一次，重复构造会panic，
// 进程内只应创建一个实例并注入到各组件。
type VoteMetrics struct {
	VotesCast      *prometheus.CounterVec
	VotesRejected  *prometheus.CounterVec
	CastLatency    *prometheus.HistogramVec
	Subscribers    *prometheus.GaugeVec
	EventsDropped  *prometheus.CounterVec
	EventsExported prometheus.Counter
}

func NewVoteMetrics(namespace string) *VoteMetrics {
	return &VoteMetrics{
		VotesCast: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_cast_total",
				Help:      "成功提交的选票总数",
			},
			[]string{"election_id"},
		),
		VotesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_rejected_total",
				Help:      "被拒绝的投票请求总数，按拒绝原因分类",
			},
			[]string{"election_id", "reason"},
		),
		CastLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "vote_cast_duration_seconds",
				Help:      "castVote调用耗时分布",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"election_id"},
		),
		Subscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "broadcast_subscribers",
				Help:      "当前活跃的计票订阅者数量",
			},
			[]string{"election_id"},
		),
		EventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_events_dropped_total",
				Help:      "因订阅者缓冲满而丢弃的事件总数",
			},
			[]string{"election_id"},
		),
		EventsExported: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tally_events_published_total",
				Help:      "发布到Kafka的计票事件总数",
			},
		),
	}
}
