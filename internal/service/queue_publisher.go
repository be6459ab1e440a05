// Package service publishes item events to RabbitMQ.  Publishing never
// blocks a request: events are queued in memory and delivered by a
// background worker, and failures are logged rather than returned to the
// HTTP caller.
package service

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/echo-cicd-demo/internal/model"
    q "github.com/iliyamo/echo-cicd-demo/internal/queue"
)

// ErrPublisherFull is returned by AMQPPublisher.Publish when the pending
// buffer is full and the event was dropped.
var ErrPublisherFull = errors.New("event buffer full")

// EventPublisher hands item events to a broker.
type EventPublisher interface {
    Publish(ctx context.Context, ev q.ItemEvent) error
}

// NopPublisher discards every event.  It is used when events are disabled.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, q.ItemEvent) error { return nil }

// NewItemEvent builds an event with a fresh id and the current UTC time.
func NewItemEvent(typ string, id int64, item *model.Item, env string) q.ItemEvent {
    return q.ItemEvent{
        EventID:     uuid.NewString(),
        Type:        typ,
        ItemID:      id,
        Item:        item,
        Environment: env,
        OccurredAt:  time.Now().UTC().Format(time.RFC3339Nano),
    }
}

// AMQPPublisher delivers events to a durable queue on the default
// exchange.  Messages are JSON and marked persistent.  On shutdown Run
// flushes whatever is still buffered for up to drainTimeout; events
// published after that are lost.
type AMQPPublisher struct {
    url          string
    queue        string
    pending      chan q.ItemEvent
    drainTimeout time.Duration
    deliver      func(context.Context, q.ItemEvent) error

    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher that buffers up to size events.
// Run must be started for events to leave the process.
func NewAMQPPublisher(url, queue string, size int) *AMQPPublisher {
    if size < 1 {
        size = 1
    }
    p := &AMQPPublisher{
        url:          url,
        queue:        queue,
        pending:      make(chan q.ItemEvent, size),
        drainTimeout: 5 * time.Second,
    }
    p.deliver = p.send
    return p
}

// Publish queues ev for delivery.  It returns ErrPublisherFull instead of
// blocking when the buffer is full.
func (p *AMQPPublisher) Publish(ctx context.Context, ev q.ItemEvent) error {
    select {
    case p.pending <- ev:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    default:
        return ErrPublisherFull
    }
}

// Run delivers queued events until ctx is cancelled, then drains the
// buffer.  A failed delivery drops the broken connection so the next
// event reconnects.
func (p *AMQPPublisher) Run(ctx context.Context) error {
    defer p.reset()
    for {
        if ctx.Err() != nil {
            p.drain(context.WithoutCancel(ctx))
            return ctx.Err()
        }
        select {
        case <-ctx.Done():
        case ev := <-p.pending:
            if err := p.deliver(ctx, ev); err != nil {
                log.Errorf("rabbitmq: publish %s for item %d failed: %v", ev.Type, ev.ItemID, err)
                p.reset()
            }
        }
    }
}

// drain delivers buffered events until the buffer is empty, a delivery
// fails or drainTimeout passes.  Whatever is left is dropped and counted.
func (p *AMQPPublisher) drain(ctx context.Context) {
    ctx, cancel := context.WithTimeout(ctx, p.drainTimeout)
    defer cancel()
    for {
        select {
        case ev := <-p.pending:
            if err := ctx.Err(); err != nil {
                log.Errorf("rabbitmq: drain timed out; %d events dropped", 1+len(p.pending))
                return
            }
            if err := p.deliver(ctx, ev); err != nil {
                log.Errorf("rabbitmq: drain stopped; %d events dropped: %v", 1+len(p.pending), err)
                return
            }
        default:
            return
        }
    }
}

func (p *AMQPPublisher) send(ctx context.Context, ev q.ItemEvent) error {
    if err := p.ensureChannel(); err != nil {
        return err
    }

    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    ev.EventID,
        Type:         ev.Type,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }

    pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    return p.ch.PublishWithContext(pubCtx,
        "",      // default exchange
        p.queue, // routing key = queue name
        false,   // mandatory
        false,   // immediate
        pub,
    )
}

func (p *AMQPPublisher) ensureChannel() error {
    if p.ch != nil && !p.ch.IsClosed() {
        return nil
    }
    p.reset()

    conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
    if err != nil {
        return fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return fmt.Errorf("channel open: %w", err)
    }
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return nil
}

func (p *AMQPPublisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}
