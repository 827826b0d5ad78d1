package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lvdashuaibi/electionvote/config"
	"github.com/lvdashuaibi/electionvote/internal/model"
)

// Producer 计票事件生产者。
// 投票提交后把事件发往Kafka，其他实例的消费者转投本地广播中心，
// 这样订阅者连到哪个实例都能收到全量计票事件。
type Producer struct {
	writer         *kafka.Writer
	ctx            context.Context
	partitionCount int // 主题的分区数量
}

func NewProducer() (*Producer, error) {
	ctx := context.Background()

	// 获取分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %w", err)
	}

	topicPartitions := 0
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions++
		}
	}

	log.Printf("生产者检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, topicPartitions)

	// 以选举ID为Key做Hash分区，同一选举的事件保持分区内有序
	writer := &kafka.Writer{
		Addr:     kafka.TCP(config.AppConfig.Kafka.Brokers...),
		Topic:    config.AppConfig.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}

	return &Producer{
		writer:         writer,
		ctx:            ctx,
		partitionCount: topicPartitions,
	}, nil
}

// SendTallyEvent 发送计票事件到Kafka
func (p *Producer) SendTallyEvent(event *model.TallyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化计票事件失败: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ElectionID),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(p.ctx, msg); err != nil {
		return fmt.Errorf("发送计票事件失败: %w", err)
	}
	return nil
}

// Close 关闭Kafka生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}
