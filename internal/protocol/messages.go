package protocol

import "time"

// Command is sent by a viewer over the real-time connection.
type Command struct {
	Command string `json:"command"`
}

const (
	CommandStartRecording = "startRecording"
	CommandStopRecording  = "stopRecording"
)

// EventType names an outbound viewer message.
type EventType string

const (
	EventTranscription   EventType = "transcription"
	EventDiagnoses       EventType = "diagnoses"
	EventQuestions       EventType = "questions"
	EventRecordingStatus EventType = "recordingStatus"
)

// Event is the outbound viewer message. Text is set for transcription,
// diagnoses and questions; IsRecording only for recordingStatus.
type Event struct {
	Type        EventType `json:"type"`
	Text        *string   `json:"text,omitempty"`
	IsRecording *bool     `json:"isRecording,omitempty"`
}

// TextEvent builds a transcription, diagnoses or questions event.
func TextEvent(t EventType, text string) Event {
	return Event{Type: t, Text: &text}
}

// StatusEvent builds a recordingStatus event.
func StatusEvent(recording bool) Event {
	return Event{Type: EventRecordingStatus, IsRecording: &recording}
}

// TextValue returns the text payload or "" when absent.
func (e Event) TextValue() string {
	if e.Text == nil {
		return ""
	}
	return *e.Text
}

// BusEvent mirrors a viewer event on the message bus.
type BusEvent struct {
	RecordingID string    `json:"recording_id,omitempty"`
	Type        EventType `json:"type"`
	Text        string    `json:"text,omitempty"`
	IsRecording *bool     `json:"is_recording,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectEventPrefix = "scribe.event"
	SubjectCommand     = "scribe.command"
)

// EventSubject returns the bus subject an event of type t is mirrored to.
func EventSubject(t EventType) string {
	return SubjectEventPrefix + "." + string(t)
}
