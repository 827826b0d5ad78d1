package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/electionvote/internal/metrics"
	"github.com/lvdashuaibi/electionvote/internal/model"
)

// Subscription 一个订阅者对单个选举的计票事件订阅。
// 生命周期只有Active→Closed两个状态，关闭后不再收到事件，
// 重连方重新Subscribe并通过全量快照对齐，Hub不跟踪断线重连。
type Subscription struct {
	ID         string
	ElectionID string
	C          chan *model.TallyEvent

	hub    *Hub
	closed bool
}

// Close 取消订阅，可安全地重复调用，也可与正在进行的Publish并发调用
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub 计票事件广播中心，按选举ID做订阅者分组扇出。
// 每个订阅者持有独立的带缓冲通道，缓冲满时直接丢弃事件，
// 慢订阅者永远不会阻塞投票路径或影响其他订阅者。
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*Subscription // electionID -> subscriptionID -> 订阅
	buffer  int
	metrics *VoteMetricsRef
}

// VoteMetricsRef 可选的指标引用，为nil时不上报
type VoteMetricsRef = metrics.VoteMetrics

func NewHub(subscriberBuffer int, m *metrics.VoteMetrics) *Hub {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 16
	}
	return &Hub{
		subs:    make(map[string]map[string]*Subscription),
		buffer:  subscriberBuffer,
		metrics: m,
	}
}

// Subscribe 注册对指定选举的订阅
func (h *Hub) Subscribe(electionID string) *Subscription {
	sub := &Subscription{
		ID:         uuid.NewString(),
		ElectionID: electionID,
		C:          make(chan *model.TallyEvent, h.buffer),
		hub:        h,
	}

	h.mu.Lock()
	group := h.subs[electionID]
	if group == nil {
		group = make(map[string]*Subscription)
		h.subs[electionID] = group
	}
	group[sub.ID] = sub
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(electionID).Inc()
	}
	return sub
}

// unsubscribe 注销订阅并关闭通道。
// 通道的close只会在持有写锁时发生，而Publish的发送在读锁内，
// 因此不会出现向已关闭通道发送的竞态。
func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	group := h.subs[sub.ElectionID]
	if group != nil {
		delete(group, sub.ID)
		if len(group) == 0 {
			delete(h.subs, sub.ElectionID)
		}
	}
	close(sub.C)

	if h.metrics != nil {
		h.metrics.Subscribers.WithLabelValues(sub.ElectionID).Dec()
	}
}

// Publish 把计票事件投递给该选举的所有当前订阅者。
// 投递是至少一次、尽力而为：缓冲满的订阅者丢弃本次事件，
// 由其在重连时通过全量计票读取对齐。
func (h *Hub) Publish(event *model.TallyEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[event.ElectionID] {
		select {
		case sub.C <- event:
		default:
			// 慢订阅者，丢弃而不是阻塞投票路径
			if h.metrics != nil {
				h.metrics.EventsDropped.WithLabelValues(event.ElectionID).Inc()
			}
		}
	}
}

// SubscriberCount 返回指定选举的当前订阅者数量
func (h *Hub) SubscriberCount(electionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[electionID])
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for electionID, group := range h.subs {
		for _, sub := range group {
			sub.closed = true
			close(sub.C)
			total++
			if h.metrics != nil {
				h.metrics.Subscribers.WithLabelValues(electionID).Dec()
			}
		}
	}
	h.subs = make(map[string]map[string]*Subscription)
	if total > 0 {
		log.Printf("广播中心已关闭，注销 %d 个订阅", total)
	}
}
