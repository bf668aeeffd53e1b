package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerNotifierWritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.Send(context.Background(), Message{Kind: KindCodeRedeemed, Destination: "alice", Body: "1000"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["kind"] != KindCodeRedeemed || record["destination"] != "alice" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestNilLoggerNotifierIsSilent(t *testing.T) {
	var n *LoggerNotifier
	if err := n.Send(context.Background(), Message{Kind: KindMemberAdded}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestRecorderReturnsCopy(t *testing.T) {
	r := &Recorder{}
	_ = r.Send(context.Background(), Message{Kind: KindMemberAdded, Destination: "bob"})

	got := r.Messages()
	if len(got) != 1 || got[0].Destination != "bob" {
		t.Fatalf("unexpected messages %v", got)
	}
	got[0].Destination = "mallory"
	if r.Messages()[0].Destination != "bob" {
		t.Fatal("Messages must not expose internal storage")
	}
}
