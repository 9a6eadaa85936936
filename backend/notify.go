package backend

import "time"

// Feedback reports the completion of one presentation, derived from the
// kernel's flip-complete event.
type Feedback struct {
	// Time is the flip timestamp (CLOCK_MONOTONIC on capable devices).
	Time     time.Duration
	Sequence uint32

	// Vsync is set when the flip was synchronized to vertical retrace
	// (i.e. not a tearing present).
	Vsync bool
	// HwCompletion is set when the timestamp came from display hardware
	// rather than being synthesized.
	HwCompletion bool
}

// Notifier is the surface the protocol layer listens on. All callbacks run
// on the device's event loop goroutine.
type Notifier interface {
	ConnectorConnected(c *Connector)
	ConnectorDisconnected(c *Connector)

	// ConnectorStateChanged fires after a commit touched the connector, so
	// the frontend can re-send its state.
	ConnectorStateChanged(c *Connector)

	// HardwareCursorChanged fires when cursor-plane availability on the
	// connector changed.
	HardwareCursorChanged(c *Connector, available bool)

	PresentationFeedback(c *Connector, fb *Feedback)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ConnectorConnected(*Connector)           {}
func (NopNotifier) ConnectorDisconnected(*Connector)        {}
func (NopNotifier) ConnectorStateChanged(*Connector)        {}
func (NopNotifier) HardwareCursorChanged(*Connector, bool)  {}
func (NopNotifier) PresentationFeedback(*Connector, *Feedback) {}
