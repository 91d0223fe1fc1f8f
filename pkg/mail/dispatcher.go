package mail

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Dispatcher hands messages to a sender, either directly or through a
// background queue.
type Dispatcher struct {
	sender Sender
	queue  *Queue
	log    *zap.SugaredLogger
}

// NewDispatcher delivers synchronously through sender. With a non-nil queue
// Deliver only enqueues and reports success once the message is accepted.
func NewDispatcher(sender Sender, queue *Queue, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{sender: sender, queue: queue, log: log.Named("mail")}
}

// Async reports whether messages are queued instead of sent inline.
func (d *Dispatcher) Async() bool {
	return d.queue != nil
}

// Transport returns the name of the underlying transport.
func (d *Dispatcher) Transport() string {
	return d.sender.Transport()
}

// Deliver sends msg or, in async mode, enqueues it.
func (d *Dispatcher) Deliver(ctx context.Context, msg *Message) error {
	ctx, span := otel.Tracer("signature-relay/mail").Start(ctx, "mail.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("mail.transport", d.sender.Transport()),
		attribute.Bool("mail.async", d.Async()),
		attribute.Int("mail.attachments", len(msg.Attachments)),
	)

	var err error
	if d.queue != nil {
		err = d.queue.Enqueue(msg)
	} else {
		err = d.sender.Send(ctx, msg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return fmt.Errorf("deliver mail %s: %w", msg.ID, err)
	}
	return nil
}

// Start starts the background queue, if any.
func (d *Dispatcher) Start() {
	if d.queue != nil {
		d.queue.Start()
	}
}

// Stop drains the background queue, if any.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.queue == nil {
		return nil
	}
	return d.queue.Stop(ctx)
}
