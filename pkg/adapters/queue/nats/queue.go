// Package nats is a VisitQueue on NATS JetStream.
// Receive uses a durable pull consumer; Delete acks. Unacked messages are
// redelivered once the consumer's AckWait elapses.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

type Config struct {
	URL      string
	Stream   string
	Subject  string
	Durable  string
	MaxAge   time.Duration
	Storage  nats.StorageType
	FetchMax time.Duration // how long an empty Fetch waits before reporting no messages
}

// DefaultConfig derives stream, subject and consumer names from the queue name
func DefaultConfig(url, name string) Config {
	return Config{
		URL:      url,
		Stream:   "VISITS",
		Subject:  name + ".events",
		Durable:  name + "-flush",
		MaxAge:   7 * 24 * time.Hour,
		Storage:  nats.FileStorage,
		FetchMax: 500 * time.Millisecond,
	}
}

type Queue struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	cfg  Config

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ ports.VisitQueue = (*Queue)(nil)

func New(cfg Config) (*Queue, error) {
	conn, err := nats.Connect(
		cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	q := &Queue{conn: conn, js: js, cfg: cfg}
	if err := q.initStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) initStream() error {
	sc := &nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   q.cfg.Storage,
		MaxAge:    q.cfg.MaxAge,
		Replicas:  1,
	}

	_, err := q.js.StreamInfo(q.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := q.js.AddStream(sc); err != nil {
			return fmt.Errorf("add stream: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}

	if _, err := q.js.UpdateStream(sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

func (q *Queue) Send(ctx context.Context, body []byte) error {
	if _, err := q.js.Publish(q.cfg.Subject, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// subscription binds the pull consumer. AckWait is fixed by the first Receive.
func (q *Queue) subscription(visibility time.Duration) (*nats.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sub != nil {
		return q.sub, nil
	}
	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable,
		nats.BindStream(q.cfg.Stream),
		nats.AckExplicit(),
		nats.AckWait(visibility),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	q.sub = sub
	return sub, nil
}

func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]ports.QueueMessage, error) {
	sub, err := q.subscription(visibility)
	if err != nil {
		return nil, err
	}

	wait := q.cfg.FetchMax
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
		wait = time.Until(dl)
	}
	if wait <= 0 {
		return nil, ctx.Err()
	}

	batch, err := sub.Fetch(max, nats.MaxWait(wait))
	if errors.Is(err, nats.ErrTimeout) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nats fetch: %w", err)
	}

	msgs := make([]ports.QueueMessage, 0, len(batch))
	for _, m := range batch {
		qm := ports.QueueMessage{Body: m.Data, Handle: m, DequeueCount: 1}
		if meta, err := m.Metadata(); err == nil {
			qm.ID = strconv.FormatUint(meta.Sequence.Stream, 10)
			qm.DequeueCount = int(meta.NumDelivered)
		}
		msgs = append(msgs, qm)
	}
	return msgs, nil
}

func (q *Queue) Delete(ctx context.Context, msg ports.QueueMessage) error {
	m, ok := msg.Handle.(*nats.Msg)
	if !ok {
		return fmt.Errorf("nats delete: message %s has no handle", msg.ID)
	}
	if err := m.Ack(nats.Context(ctx)); err != nil {
		return fmt.Errorf("nats ack: %w", err)
	}
	return nil
}

// Close drops the connection but keeps the durable consumer, so unacked
// messages are redelivered to the next process.
func (q *Queue) Close() error {
	q.conn.Close()
	return nil
}
