package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Publisher publishes notification events.  Implementations must be safe
// for concurrent use.
type Publisher interface {
    Publish(ctx context.Context, ev NotificationEvent) error
}

// AMQPPublisher publishes NotificationEvents to RabbitMQ.  It keeps one
// connection open and redials lazily after the broker drops it; each
// publish uses its own channel because channels are not safe for
// concurrent use.
type AMQPPublisher struct {
    url   string
    queue string

    mu   sync.Mutex
    conn *amqp.Connection
}

// NewAMQPPublisher returns a publisher for the given broker URL.  No
// connection is made until the first Publish.
func NewAMQPPublisher(url string) *AMQPPublisher {
    return &AMQPPublisher{url: url, queue: NotificationQueue}
}

func (p *AMQPPublisher) connection() (*amqp.Connection, error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn != nil && !p.conn.IsClosed() {
        return p.conn, nil
    }
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial broker: %w", err)
    }
    p.conn = conn
    return conn, nil
}

// Publish declares the queue (idempotent) and publishes ev as a
// persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev NotificationEvent) error {
    conn, err := p.connection()
    if err != nil {
        return err
    }
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(
        p.queue, // name
        true,    // durable
        false,   // autoDelete
        false,   // exclusive
        false,   // noWait
        nil,     // args
    ); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.ID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        pub,
    ); err != nil {
        return fmt.Errorf("publish: %w", err)
    }
    return nil
}

// Close closes the broker connection if one is open.
func (p *AMQPPublisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.conn == nil || p.conn.IsClosed() {
        return nil
    }
    return p.conn.Close()
}

// LogPublisher writes events to the structured log instead of a broker.
// It is used in development when no RabbitMQ is available.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev NotificationEvent) error {
    zap.L().Info("notification queued",
        zap.String("id", ev.ID),
        zap.Uint64("recipient_id", ev.RecipientID),
        zap.String("template", ev.TemplateKey),
        zap.String("dedupe_key", ev.DedupeKey),
        zap.Any("params", ev.Params))
    return nil
}
