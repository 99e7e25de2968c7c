package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"study-agent-backend/config"

	"github.com/apache/rocketmq-client-go/v2"
	c "github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/apache/rocketmq-client-go/v2/rlog"
	"github.com/avast/retry-go/v4"
)

const (
	TopicKnowledgeBase = "topic_knowledge_base"

	// 文件删除后清理向量库
	TagDelete = "tag_delete"

	// 运维触发的失败文件重试
	TagReprocess = "tag_reprocess"

	consumeGroupKnowledgeBase = "cg_knowledge_base"

	sendMessageAttempts  = 3
	maxReconsumeTimes    = 5
	consumeGoroutineNums = 10
)

var (
	// 全局生产者
	producerInstance rocketmq.Producer

	// 知识库业务消费者
	consumerKnowledgeBase rocketmq.PushConsumer

	// 消息处理器表，按 topic/tag 路由
	handlers = make(map[string]MessageHandler)

	// 每个topic注册过的tag，Run 时合并成一条订阅表达式
	topicTags = make(map[string][]string)
)

type MessageHandler func(context.Context, *primitive.MessageExt) error

type Message struct {
	Topic   string
	Tag     string
	Payload any
}

// Init 创建生产者与消费者，需在配置加载后调用
func Init() error {
	// 设置RocketMQ客户端（使用rlog）的日志级别
	rlog.SetLogLevel("warn")

	var err error
	consumerKnowledgeBase, err = rocketmq.NewPushConsumer(
		c.WithNameServer(config.Cfg.MQ.NameServer),
		c.WithGroupName(consumeGroupKnowledgeBase),
		c.WithConsumerModel(c.Clustering),
		c.WithConsumeFromWhere(c.ConsumeFromLastOffset),
		c.WithMaxReconsumeTimes(maxReconsumeTimes),
		c.WithConsumeGoroutineNums(consumeGoroutineNums),
	)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %v", err)
	}

	producerInstance, err = rocketmq.NewProducer(
		producer.WithNameServer(config.Cfg.MQ.NameServer),
	)
	if err != nil {
		return fmt.Errorf("failed to create producer: %v", err)
	}

	return nil
}

// RegisterHandler 注册消息处理器，需在 Run 之前调用
func RegisterHandler(topic string, tag string, handler MessageHandler) {
	handlers[handlerKey(topic, tag)] = handler
	topicTags[topic] = append(topicTags[topic], tag)
}

// Run 订阅全部已注册的topic并启动生产者与消费者
func Run() error {
	for topic, tags := range topicTags {
		// 同一topic的多个tag合并订阅
		selector := c.MessageSelector{
			Type:       c.TAG,
			Expression: strings.Join(tags, " || "),
		}

		err := consumerKnowledgeBase.Subscribe(topic, selector, func(ctx context.Context, messages ...*primitive.MessageExt) (c.ConsumeResult, error) {
			for _, msg := range messages {
				h := handlers[handlerKey(msg.Topic, msg.GetTags())]
				if h == nil {
					slog.Warn("No message handler found",
						"topic", msg.Topic,
						"tag", msg.GetTags())
					continue
				}

				if err := h(ctx, msg); err != nil {
					slog.Error("Failed to process message",
						"topic", msg.Topic,
						"tag", msg.GetTags(),
						"msg_id", msg.MsgId,
						"error", err)
					return c.ConsumeRetryLater, err
				}
			}
			return c.ConsumeSuccess, nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to topic %s: %v", topic, err)
		}
	}

	if err := producerInstance.Start(); err != nil {
		return fmt.Errorf("failed to start producer: %v", err)
	}

	if err := consumerKnowledgeBase.Start(); err != nil {
		return fmt.Errorf("failed to start consumer: %v", err)
	}
	return nil
}

// SendMessage 向MQ发送消息
func SendMessage(ctx context.Context, message *Message) error {
	payloadJSON, err := json.Marshal(message.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %v", err)
	}

	msg := primitive.NewMessage(message.Topic, payloadJSON)
	if message.Tag != "" {
		msg = msg.WithTag(message.Tag)
	}

	err = retry.Do(
		func() error {
			_, err := producerInstance.SendSync(ctx, msg)
			return err
		},
		retry.Attempts(sendMessageAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retrying to send message",
				"attempt", n+1,
				"topic", msg.Topic,
				"err", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s after retries: %v", msg.Topic, err)
	}

	return nil
}

// Shutdown 关闭MQ服务
func Shutdown() {
	if producerInstance != nil {
		producerInstance.Shutdown()
	}
	if consumerKnowledgeBase != nil {
		consumerKnowledgeBase.Shutdown()
	}
}

func handlerKey(topic, tag string) string {
	return topic + "/" + tag
}
