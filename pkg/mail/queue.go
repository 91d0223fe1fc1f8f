/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 10 * time.Second
	defaultCapacity       = 1000
	defaultSendTimeout    = time.Minute
	maxBackoff            = 30 * time.Minute
	retryPollInterval     = 50 * time.Millisecond
)

// ErrQueueStopped is returned by Enqueue once Stop has been called.
var ErrQueueStopped = errors.New("mail queue is shutting down")

// QueueOptions tunes the background queue. Zero values select defaults.
type QueueOptions struct {
	// MaxAttempts bounds the sends per message, including the first one.
	MaxAttempts int
	// InitialBackoff doubles after every failed attempt, up to 30 minutes.
	InitialBackoff time.Duration
	// Capacity is the number of messages that may wait for a first attempt.
	Capacity    int
	SendTimeout time.Duration
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	return o
}

// backoff returns the delay scheduled after the given failed attempt.
func (o QueueOptions) backoff(attempt int) time.Duration {
	d := o.InitialBackoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

type delivery struct {
	msg      *Message
	attempts int
	due      time.Time
}

// Queue sends messages from a single background worker and retries failed
// sends with exponential backoff.
type Queue struct {
	sender    Sender
	transport string
	opts      QueueOptions
	log       *zap.SugaredLogger

	incoming chan *delivery
	stopping chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue returns a stopped queue. Call Start to begin sending.
func NewQueue(sender Sender, log *zap.SugaredLogger, opts QueueOptions) *Queue {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts = opts.withDefaults()
	log = log.Named("mail-queue")
	log.Infow("Initializing mail queue",
		"maxAttempts", opts.MaxAttempts,
		"initialBackoff", opts.InitialBackoff,
		"capacity", opts.Capacity)

	return &Queue{
		sender:    sender,
		transport: sender.Transport(),
		opts:      opts,
		log:       log,
		incoming:  make(chan *delivery, opts.Capacity),
		stopping:  make(chan struct{}),
	}
}

// Start launches the worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.run()
	q.log.Info("Mail queue worker started")
}

// Enqueue accepts msg for background delivery. It never blocks: a full or
// stopped queue rejects the message.
func (q *Queue) Enqueue(msg *Message) error {
	if err := msg.validate(); err != nil {
		q.reject(msg, "invalid message")
		return err
	}
	select {
	case <-q.stopping:
		q.reject(msg, "queue stopped")
		return ErrQueueStopped
	default:
	}

	select {
	case q.incoming <- &delivery{msg: msg, due: time.Now()}:
		metrics.MailQueued.WithLabelValues(q.transport).Inc()
		q.log.Debugw("Email queued", "id", msg.ID, "receivers", len(msg.To))
		return nil
	default:
		q.reject(msg, "queue full")
		return fmt.Errorf("mail queue is full (capacity: %d)", q.opts.Capacity)
	}
}

func (q *Queue) reject(msg *Message, reason string) {
	metrics.MailQueueDropped.WithLabelValues(q.transport).Inc()
	q.log.Errorw("Email not queued", "id", msg.ID, "reason", reason)
}

func (q *Queue) run() {
	defer q.wg.Done()

	var waiting []*delivery
	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopping:
			q.flush(waiting)
			return
		case d := <-q.incoming:
			if q.attempt(d) {
				waiting = append(waiting, d)
			}
		case now := <-ticker.C:
			waiting = q.retryDue(waiting, now)
		}
	}
}

// retryDue attempts every delivery whose backoff has elapsed and returns
// the ones that still need another try.
func (q *Queue) retryDue(waiting []*delivery, now time.Time) []*delivery {
	kept := waiting[:0]
	for _, d := range waiting {
		if now.Before(d.due) || q.attempt(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

// flush gives accepted and waiting deliveries one final attempt.
func (q *Queue) flush(waiting []*delivery) {
drain:
	for {
		select {
		case d := <-q.incoming:
			waiting = append(waiting, d)
		default:
			break drain
		}
	}
	q.log.Infow("Flushing mail queue before shutdown", "count", len(waiting))
	for _, d := range waiting {
		q.attempt(d)
	}
}

// attempt sends once and reports whether the delivery should be retried.
func (q *Queue) attempt(d *delivery) bool {
	d.attempts++
	err := q.send(d.msg)
	if err == nil {
		q.log.Infow("Queued email sent", "id", d.msg.ID, "attempt", d.attempts)
		return false
	}

	if d.attempts >= q.opts.MaxAttempts {
		q.log.Errorw("Email send failed after all attempts",
			"id", d.msg.ID,
			"attempts", d.attempts,
			"error", err)
		metrics.MailFailed.WithLabelValues(q.transport).Inc()
		return false
	}

	wait := q.opts.backoff(d.attempts)
	d.due = time.Now().Add(wait)
	q.log.Warnw("Email send failed, retry scheduled",
		"id", d.msg.ID,
		"attempt", d.attempts,
		"retryIn", wait,
		"error", err)
	metrics.MailRetryScheduled.WithLabelValues(q.transport).Inc()
	return true
}

// send is detached from Stop so a final attempt during shutdown still gets
// the full send timeout. A panicking sender counts as a failed attempt.
func (q *Queue) send(msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.SendTimeout)
	defer cancel()
	return q.sender.Send(ctx, msg)
}

// Stop signals the worker and waits until it has flushed or ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stopping) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Mail queue stopped")
		return nil
	case <-ctx.Done():
		q.log.Warn("Mail queue stop timed out, unsent messages are lost")
		return ctx.Err()
	}
}

// Length returns the number of messages waiting for their first attempt.
func (q *Queue) Length() int {
	return len(q.incoming)
}
