package mqtt

import (
	"context"

	"github.com/absmach/fedagg/pkg/fl"
)

const DefaultTopic = "fl/aggregations/completed"

// Notifier announces completed aggregations by publishing their provenance
// record.
type Notifier struct {
	pub   Publisher
	topic string
}

func NewNotifier(pub Publisher, topic string) *Notifier {
	if topic == "" {
		topic = DefaultTopic
	}

	return &Notifier{pub: pub, topic: topic}
}

func (n *Notifier) Notify(ctx context.Context, prov fl.Provenance) error {
	return n.pub.Publish(ctx, n.topic, prov)
}
