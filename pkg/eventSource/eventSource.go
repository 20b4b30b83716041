package eventSource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Layr-Labs/eigenx-multisig-go/pkg/errors"
)

// EventKind identifies what changed outside the process
type EventKind int

const (
	// SignerChanged fires when the wallet switches to another key
	SignerChanged EventKind = iota + 1
	// SessionChanged fires when the stored login session is written or removed
	SessionChanged
	// NetworkChanged fires when the active chain changes
	NetworkChanged
)

func (k EventKind) String() string {
	switch k {
	case SignerChanged:
		return "signer_changed"
	case SessionChanged:
		return "session_changed"
	case NetworkChanged:
		return "network_changed"
	default:
		return "unknown"
	}
}

// Event is a change notification. Events carry no signer state; listeners
// read the current state when they handle one.
type Event struct {
	Kind EventKind
	// ChainID is set for NetworkChanged
	ChainID string
	At      time.Time
}

type IEventSource interface {
	Publish(ctx context.Context, event *Event) error
	ListenToChannel(ctx context.Context, handleFunc func(*Event))
}

// EventSource is an in-process, channel backed event source
type EventSource struct {
	EventChannel chan *Event
	logger       *zap.Logger
}

func NewEventSource(
	logger *zap.Logger,
) *EventSource {
	return &EventSource{
		EventChannel: make(chan *Event, 100),
		logger:       logger,
	}
}

func (h *EventSource) ListenToChannel(ctx context.Context, handleFunc func(*Event)) {
	for {
		select {
		case event := <-h.EventChannel:
			h.logger.Sugar().Debugw("EventSource received event", "kind", event.Kind, "chain_id", event.ChainID)
			handleFunc(event)
		case <-ctx.Done():
			h.logger.Sugar().Info("EventSource channel listener exiting due to context done")
			return
		}
	}
}

// Publish queues event for the listener without blocking. A full channel
// returns ErrEventDropped; the event is not delivered.
func (h *EventSource) Publish(ctx context.Context, event *Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	select {
	case h.EventChannel <- event:
		h.logger.Sugar().Debugw("Event sent to channel", "kind", event.Kind)
	case <-ctx.Done():
		h.logger.Sugar().Warnw("Context done before sending event to channel", "kind", event.Kind)
		return ctx.Err()
	default:
		h.logger.Sugar().Warnw("Event channel is full, dropping event", "kind", event.Kind, "chain_id", event.ChainID)
		return errors.ErrEventDropped.Newf("%s: channel full (%d queued)", event.Kind, len(h.EventChannel))
	}
	return nil
}

func SignerChange() *Event {
	return &Event{Kind: SignerChanged}
}

func SessionChange() *Event {
	return &Event{Kind: SessionChanged}
}

func NetworkChange(chainID string) *Event {
	return &Event{Kind: NetworkChanged, ChainID: chainID}
}
