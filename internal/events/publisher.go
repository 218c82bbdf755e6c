package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// 生命周期事件类型
const (
	TypePhaseChanged   = "cluster.phase"
	TypeNodeTransition = "node.transition"
)

// Event 一条集群生命周期事件
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Cluster   string `json:"cluster"`
	Timestamp int64  `json:"timestamp"`
	Phase     string `json:"phase,omitempty"`
	Node      string `json:"node,omitempty"`
	Role      string `json:"role,omitempty"`
	State     string `json:"state,omitempty"`
}

// Publisher 把集群生命周期事件发布到 Kafka。
// 未配置 broker 时所有方法都是空操作；发布失败只记日志，不影响 AM 运行。
type Publisher struct {
	writer  *kafka.Writer
	cluster string
	logger  *zap.Logger
}

// NewPublisher 创建事件发布器，brokers 为空时返回禁用的发布器
func NewPublisher(brokers []string, topic, cluster string, logger *zap.Logger) *Publisher {
	p := &Publisher{cluster: cluster, logger: logger}
	if len(brokers) == 0 {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	logger.Info("lifecycle event publisher enabled",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))
	return p
}

// PhaseChanged 发布集群阶段变更事件
func (p *Publisher) PhaseChanged(phase string) {
	p.publish(Event{
		Type:  TypePhaseChanged,
		Phase: phase,
	})
}

// NodeTransition 发布节点状态迁移事件
func (p *Publisher) NodeTransition(node, role, state string) {
	p.publish(Event{
		Type:  TypeNodeTransition,
		Node:  node,
		Role:  role,
		State: state,
	})
}

func (p *Publisher) publish(ev Event) {
	if p.writer == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Cluster = p.cluster
	ev.Timestamp = time.Now().UnixMilli()

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode lifecycle event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Cluster),
		Value: value,
	}); err != nil {
		p.logger.Warn("failed to publish lifecycle event",
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}

// Close 关闭底层 Kafka 连接
func (p *Publisher) Close() {
	if p.writer != nil {
		_ = p.writer.Close()
	}
}
