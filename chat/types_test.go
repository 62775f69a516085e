package chat

import (
	"encoding/json"
	"testing"
)

func TestAttachmentFieldShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"absent", `{"name":"spaces/A/messages/1"}`, 0},
		{"null", `{"name":"m","attachment":null}`, 0},
		{"empty string", `{"name":"m","attachment":""}`, 0},
		{"single object", `{"name":"m","attachment":{"filename":"a.png"}}`, 1},
		{"array", `{"name":"m","attachment":[{"filename":"a.png"},{"filename":"b.png"}]}`, 2},
		{"empty array", `{"name":"m","attachment":[]}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg RawMessage
			if err := json.Unmarshal([]byte(tt.payload), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := len(msg.Attachments()); got != tt.want {
				t.Errorf("got %d attachments, want %d", got, tt.want)
			}
		})
	}
}

func TestAttachmentFieldObjectArrayEquivalence(t *testing.T) {
	object := `{"name":"m","attachment":{"name":"att1","filename":"report.pdf","contentType":"application/pdf"}}`
	array := `{"name":"m","attachment":[{"name":"att1","filename":"report.pdf","contentType":"application/pdf"}]}`

	var fromObject, fromArray RawMessage
	if err := json.Unmarshal([]byte(object), &fromObject); err != nil {
		t.Fatalf("object form: %v", err)
	}
	if err := json.Unmarshal([]byte(array), &fromArray); err != nil {
		t.Fatalf("array form: %v", err)
	}

	a, b := fromObject.Attachments(), fromArray.Attachments()
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one attachment each, got %d and %d", len(a), len(b))
	}
	if a[0] != b[0] {
		t.Errorf("object form %+v differs from array form %+v", a[0], b[0])
	}
}

func TestAttachmentsMergesBothKeys(t *testing.T) {
	payload := `{
		"name": "m",
		"attachment": {"name": "att1", "filename": "a.png"},
		"attachments": [{"name": "att2", "filename": "b.png"}]
	}`

	var msg RawMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := msg.Attachments()
	if len(got) != 2 {
		t.Fatalf("got %d attachments, want 2", len(got))
	}
	if got[0].Name != "att1" || got[1].Name != "att2" {
		t.Errorf("unexpected order: %q, %q", got[0].Name, got[1].Name)
	}
}
