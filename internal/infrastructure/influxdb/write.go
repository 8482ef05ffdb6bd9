package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/grayrelay/internal/pubsub"
)

// connectionEventsMeasurement holds one point per broker link transition.
const connectionEventsMeasurement = "connection_events"

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("relay_stats",
//	    map[string]string{"node": "relay-1"},
//	    map[string]interface{}{"subscribers": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.points.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// EventSink records connection state changes of one relay node as
// connection_events points. It implements pubsub.Observer; everything but
// state changes is ignored.
type EventSink struct {
	pubsub.NopObserver

	client *Client
	node   string
	now    func() time.Time
}

var _ pubsub.Observer = (*EventSink)(nil)

// NewEventSink returns a sink tagging its points with the node name.
func NewEventSink(client *Client, node string) *EventSink {
	return &EventSink{client: client, node: node, now: time.Now}
}

// StateChanged writes one point per transition.
func (s *EventSink) StateChanged(prev, next pubsub.State) {
	s.client.WritePointWithTime(connectionEventsMeasurement,
		map[string]string{
			"node":    s.node,
			"node_id": next.NodeID,
			"status":  next.Status.String(),
		},
		map[string]interface{}{
			"previous_status":    prev.Status.String(),
			"reconnect_attempts": next.ReconnectAttempts,
		},
		s.now(),
	)
}
