package backend

import (
	"context"

	"piggysaving/internal/amqp"
	"piggysaving/internal/datastore"
)

type modelChangedPublisher interface {
	PublishModelChanged(ctx context.Context, msg *amqp.ModelChangedMessage) error
}

// AMQPPublisher turns data store events into model_changed messages.
type AMQPPublisher struct {
	client modelChangedPublisher
}

func NewAMQPPublisher(client modelChangedPublisher) *AMQPPublisher {
	return &AMQPPublisher{client: client}
}

// PublishModelChanged implements datastore.Publisher. Toggling a bucket is
// view state only and is not forwarded.
func (p *AMQPPublisher) PublishModelChanged(ctx context.Context, ev datastore.Event) error {
	if ev.Kind == datastore.EventExpandedToggled {
		return nil
	}
	msg := amqp.NewModelChangedMessage(string(ev.Kind), ev.Date, ev.Totals)
	msg.Timestamp = ev.At
	return p.client.PublishModelChanged(ctx, msg)
}
