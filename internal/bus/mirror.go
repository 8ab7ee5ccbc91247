package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

// EventStream is the JetStream stream that retains mirrored events for the
// life of the bus server.
const EventStream = "SCRIBE_EVENTS"

// EnsureEventStream declares an in-memory stream over every mirrored event
// subject so late subscribers can replay the current run.
func (c *Client) EnsureEventStream(maxMsgs int) error {
	cfg := &nats.StreamConfig{
		Name:     EventStream,
		Subjects: []string{protocol.SubjectEventPrefix + ".>"},
		Storage:  nats.MemoryStorage,
		MaxMsgs:  int64(maxMsgs),
		Discard:  nats.DiscardOld,
	}
	if _, err := c.js.StreamInfo(EventStream); err == nil {
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("update event stream: %w", err)
		}
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup event stream: %w", err)
	}
	if _, err := c.js.AddStream(cfg); err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}

// EventSink returns a broadcast observer publishing every event to
// scribe.event.<type>. Publishing is buffered and never blocks the caller.
func (c *Client) EventSink(recordingID func() string) func(protocol.Event) {
	return func(evt protocol.Event) {
		msg := protocol.BusEvent{
			Type:        evt.Type,
			Text:        evt.TextValue(),
			IsRecording: evt.IsRecording,
			Timestamp:   time.Now().UTC(),
		}
		if recordingID != nil {
			msg.RecordingID = recordingID()
		}
		data, err := json.Marshal(msg)
		if err != nil {
			c.log.Warn("failed to encode bus event", slogError(err))
			return
		}
		if err := c.conn.Publish(protocol.EventSubject(evt.Type), data); err != nil {
			c.log.Warn("failed to publish bus event", slogError(err))
		}
	}
}

// ServeCommands answers viewer commands sent as requests on scribe.command.
// The reply is the recordingStatus event after the command was applied.
// Malformed payloads get no reply.
func (c *Client) ServeCommands(handle func(protocol.Command) bool) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(protocol.SubjectCommand, func(msg *nats.Msg) {
		var cmd protocol.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			c.log.Warn("malformed bus command", slogError(err))
			return
		}
		recording := handle(cmd)
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(protocol.StatusEvent(recording))
		if err != nil {
			c.log.Warn("failed to encode command reply", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			c.log.Warn("failed to reply to bus command", slogError(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", protocol.SubjectCommand, err)
	}
	return sub, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
