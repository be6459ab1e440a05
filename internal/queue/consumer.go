// Package queue contains the background consumer that listens to the item
// events queue and writes an audit line per event to items.log.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"
)

const itemsLogFile = "items.log"

// StartItemConsumer connects to the broker at url, declares queue (durable)
// and appends every delivered event to logDir/items.log.  It reconnects
// with exponential backoff and returns ctx.Err() once ctx is cancelled.
// Messages that cannot be handled are rejected without requeue.
func StartItemConsumer(ctx context.Context, url, queue, logDir string) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warnf("item-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            if err := sleep(ctx, backoff); err != nil {
                return err
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, queue, logDir)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warnf("item-consumer: consume loop ended: %v; reconnecting", err)
        if err := sleep(ctx, 2*time.Second); err != nil {
            return err
        }
    }
}

func sleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue, logDir string) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warnf("item-consumer: set QoS failed: %v", err)
    }

    if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
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
            if err := handleMessage(logDir, d.Body); err != nil {
                log.Errorf("item-consumer: handle message failed: %v", err)
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func handleMessage(logDir string, body []byte) error {
    var ev ItemEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if err := os.MkdirAll(logDir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", logDir, err)
    }
    f, err := os.OpenFile(filepath.Join(logDir, itemsLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatEvent(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// formatEvent renders a single audit line terminated by a newline.
func formatEvent(ev ItemEvent) string {
    line := fmt.Sprintf("[%s] %s | event_id=%s | item_id=%d | env=%s", ev.OccurredAt, ev.Type, ev.EventID, ev.ItemID, ev.Environment)
    if ev.Item != nil {
        line += fmt.Sprintf(" | name=%q | price=%g", ev.Item.Name, ev.Item.Price)
        if ev.Item.Tax != nil {
            line += fmt.Sprintf(" | tax=%g", *ev.Item.Tax)
        }
    }
    return line + "\n"
}
