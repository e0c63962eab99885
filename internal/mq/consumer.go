package mq

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"relaymail/backend/internal/config"
	"relaymail/backend/internal/pool"
)

// Handler 处理一条消息体
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// acknowledger 是 amqp091.Delivery 的确认方法子集
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// Consumer 消费 mail.event 消息，每条消息提交到协程池处理。
type Consumer struct {
	cfg     config.RabbitMQConfig
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   amqp091.Queue
	handler Handler
	workers *pool.WorkerPool
	log     *zap.Logger
}

// NewConsumer 连接 RabbitMQ，声明 exchange 和队列并完成绑定。
func NewConsumer(cfg config.RabbitMQConfig, handler Handler, log *zap.Logger) (*Consumer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Consumer{
		cfg:     cfg,
		conn:    conn,
		channel: ch,
		handler: handler,
		workers: pool.NewWorkerPool(cfg.Workers, cfg.Prefetch, log),
		log:     log,
	}
	if err := c.declare(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	err := c.channel.ExchangeDeclare(
		c.cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := c.channel.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	c.queue = q

	if err := c.channel.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	if c.cfg.Prefetch > 0 {
		if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	return nil
}

// Run 开始消费，阻塞到 ctx 结束或连接断开。
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue.Name,
		"relaymail",
		false, // 手动 ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.workers.Start(ctx)
	defer c.workers.Stop()

	c.log.Info("mail event consumer started",
		zap.String("queue", c.queue.Name),
		zap.String("routing_key", c.cfg.RoutingKey),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			body := msg.Body
			var ack acknowledger = msg
			if err := c.workers.Submit(ctx, func() {
				c.settle(ack, c.handler.Handle(ctx, body))
			}); err != nil {
				// 未处理的消息在 channel 关闭后由 broker 重新投递
				return nil
			}
		}
	}
}

// settle 根据处理结果确认消息：成功 ack，无效消息丢弃，其它错误重新入队。
func (c *Consumer) settle(d acknowledger, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case errors.Is(err, ErrMalformed):
		c.log.Warn("mail event rejected", zap.Error(err))
		ackErr = d.Reject(false)
	default:
		c.log.Error("mail event failed, requeueing", zap.Error(err))
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		c.log.Error("failed to settle message", zap.Error(ackErr))
	}
}

// Ping 检查连接状态，供就绪探针使用
func (c *Consumer) Ping(_ context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close 关闭 channel 和连接
func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
