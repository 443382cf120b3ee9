package signature

import (
	"context"

	"github.com/mmdatafocus/fieldreport_backend/utils"
)

type EventType string

const (
	EventPress   EventType = "press"
	EventMove    EventType = "move"
	EventRelease EventType = "release"
)

// Event is one pointer event as posted by a client.
type Event struct {
	Type EventType `json:"type" binding:"required"`
	Sample
}

// Replay feeds recorded pointer events through the capture and returns the rendered artifact.
// A trailing press without release is closed implicitly.
func (c *Capture) Replay(ctx context.Context, events []Event) (*Artifact, error) {
	for i, e := range events {
		switch e.Type {
		case EventPress:
			c.Press(e.X, e.Y, e.TimestampMs)
		case EventMove:
			c.Move(e.X, e.Y, e.TimestampMs)
		case EventRelease:
			c.Release(ctx)
		default:
			return nil, utils.ValidationError("signature.replay", "event %d has unknown type %q", i, e.Type)
		}
	}
	c.mu.Lock()
	open := c.pressed
	c.mu.Unlock()
	if open {
		c.Release(ctx)
	}
	return c.Artifact(), nil
}
