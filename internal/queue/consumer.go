package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// ConsumerConfig controls StartNotificationConsumer.
type ConsumerConfig struct {
    URL      string // broker URL
    LogDir   string // directory receiving notifications.log
    Prefetch int    // channel QoS
}

// StartNotificationConsumer connects to RabbitMQ, declares the
// auction.notifications queue (durable) and consumes messages until ctx is
// cancelled.  Each message is appended to <LogDir>/notifications.log as a
// single rendered line; the actual email/WhatsApp delivery hooks in at
// that point.  The broker connection is redialed with exponential backoff.
func StartNotificationConsumer(ctx context.Context, cfg ConsumerConfig) error {
    if cfg.LogDir == "" {
        cfg.LogDir = "logs"
    }
    if cfg.Prefetch <= 0 {
        cfg.Prefetch = 50
    }

    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(cfg.URL)
        if err != nil {
            zap.L().Warn("notification-consumer: failed to dial broker",
                zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = consumeLoop(ctx, conn, cfg)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        zap.L().Warn("notification-consumer: consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, cfg ConsumerConfig) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
        zap.L().Warn("notification-consumer: set QoS failed", zap.Error(err))
    }

    if _, err := ch.QueueDeclare(NotificationQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(NotificationQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := HandleMessage(cfg.LogDir, d.Body); err != nil {
                zap.L().Error("notification-consumer: handle message failed", zap.Error(err))
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// HandleMessage decodes one NotificationEvent and appends its rendered
// line to <dir>/notifications.log.
func HandleMessage(dir string, body []byte) error {
    var ev NotificationEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.TemplateKey == "" || ev.RecipientID == 0 {
        return errors.New("event missing template or recipient")
    }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(RenderLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// RenderLine formats an event as a single human-friendly log line.  Params
// are written in key order so lines are stable.
func RenderLine(ev NotificationEvent) string {
    keys := make([]string, 0, len(ev.Params))
    for k := range ev.Params {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    parts := make([]string, 0, len(keys))
    for _, k := range keys {
        parts = append(parts, fmt.Sprintf("%s=%q", k, ev.Params[k]))
    }
    return fmt.Sprintf("[%s] %s | id=%s | recipient_id=%d | dedupe_key=%s | %s\n",
        ev.QueuedAt, ev.TemplateKey, ev.ID, ev.RecipientID, ev.DedupeKey, strings.Join(parts, " "))
}
