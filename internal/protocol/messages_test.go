package protocol

import (
	"encoding/json"
	"testing"
)

func TestEventWireFormat(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{"transcription", TextEvent(EventTranscription, "patient reports fever"), `{"type":"transcription","text":"patient reports fever"}`},
		{"empty text kept", TextEvent(EventDiagnoses, ""), `{"type":"diagnoses","text":""}`},
		{"status false", StatusEvent(false), `{"type":"recordingStatus","isRecording":false}`},
		{"status true", StatusEvent(true), `{"type":"recordingStatus","isRecording":true}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.evt)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("got %s, want %s", data, tc.want)
			}
		})
	}
}

func TestCommandDecode(t *testing.T) {
	var cmd Command
	if err := json.Unmarshal([]byte(`{"command":"startRecording","extra":1}`), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Command != CommandStartRecording {
		t.Fatalf("unexpected command %q", cmd.Command)
	}
}

func TestEventSubject(t *testing.T) {
	if got := EventSubject(EventQuestions); got != "scribe.event.questions" {
		t.Fatalf("unexpected subject %q", got)
	}
}
