package auditlog

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	base := Event{
		OccurredAt:   time.Unix(1700000000, 0),
		Actor:        "analyses",
		Action:       ActionRunCreated,
		ResourceType: "run",
		ResourceID:   "run-1",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
		want   string
	}{
		{name: "occurred_at", mutate: func(e *Event) { e.OccurredAt = time.Time{} }, want: "occurred_at"},
		{name: "actor", mutate: func(e *Event) { e.Actor = " " }, want: "actor"},
		{name: "action", mutate: func(e *Event) { e.Action = "" }, want: "action"},
		{name: "resource type", mutate: func(e *Event) { e.ResourceType = "" }, want: "resource_type"},
		{name: "resource id", mutate: func(e *Event) { e.ResourceID = "" }, want: "resource_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := base
			tc.mutate(&e)
			err := e.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestComputeIntegritySHA256(t *testing.T) {
	e := Event{
		OccurredAt:   time.Unix(1700000000, 0),
		Actor:        "analyses",
		Action:       ActionRunFailed,
		ResourceType: "run",
		ResourceID:   "run-1",
		IP:           net.ParseIP("10.0.0.1"),
	}
	a, err := ComputeIntegritySHA256(e, []byte(`{"attempt":1}`))
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}

	padded := e
	padded.Actor = " analyses "
	b, _ := ComputeIntegritySHA256(padded, []byte(`{"attempt":1}`))
	if a != b {
		t.Fatalf("expected whitespace to be ignored")
	}

	c, _ := ComputeIntegritySHA256(e, []byte(`{"attempt":2}`))
	if a == c {
		t.Fatalf("expected payload to change the digest")
	}
}

func TestInsertRequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, Event{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	if NewRecorder(nil, "", nil) != nil {
		t.Fatalf("expected nil recorder without a queryer")
	}
	var r *Recorder
	r.Record(context.Background(), Event{Action: ActionRunCreated})
}

func TestInsertQueryShape(t *testing.T) {
	for _, col := range []string{"integrity_sha256", "RETURNING event_id", "$10"} {
		if !strings.Contains(insertEventQuery, col) {
			t.Fatalf("insert query missing %q", col)
		}
	}
}
