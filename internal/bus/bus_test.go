package bus

import (
	"testing"

	"github.com/vnatgroup/wabridge/pkg/protocol"
)

func collect(events *[]Event) Handler {
	return func(_ string, e Event) { *events = append(*events, e) }
}

func TestPublish_ScopedToTenant(t *testing.T) {
	b := New()

	var gotA, gotB []Event
	b.Subscribe("tenant-a", "sub-1", collect(&gotA))
	b.Subscribe("tenant-b", "sub-2", collect(&gotB))

	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-a"})

	if len(gotA) != 1 {
		t.Fatalf("tenant-a got %d events, want 1", len(gotA))
	}
	if len(gotB) != 0 {
		t.Fatalf("tenant-b leaked %d events from tenant-a", len(gotB))
	}
}

func TestSubscribe_ReplaysLastQR(t *testing.T) {
	b := New()
	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-1"})
	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-2"})

	var got []Event
	b.Subscribe("tenant-a", "late", collect(&got))

	if len(got) != 1 {
		t.Fatalf("late subscriber got %d events, want 1", len(got))
	}
	if got[0].Payload != "qr-2" {
		t.Errorf("replayed QR = %v, want qr-2 (latest)", got[0].Payload)
	}
}

func TestReady_ClearsRetainedQR(t *testing.T) {
	b := New()
	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-1"})
	b.Publish("tenant-a", Event{Name: protocol.EventBotReady, Payload: true})

	var got []Event
	b.Subscribe("tenant-a", "late", collect(&got))

	if len(got) != 0 {
		t.Errorf("subscriber after ready got %d replayed events, want 0", len(got))
	}
}

func TestSubscribe_SameIDReplacesHandler(t *testing.T) {
	b := New()

	var got []Event
	b.Subscribe("tenant-a", "client", collect(&got))
	b.Subscribe("tenant-a", "client", collect(&got))

	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-1"})
	if len(got) != 1 {
		t.Errorf("repeated subscribe delivered %d events, want 1", len(got))
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	var got []Event
	b.Subscribe("tenant-a", "sub-1", collect(&got))
	b.Unsubscribe("tenant-a", "sub-1")

	b.Publish("tenant-a", Event{Name: protocol.EventBotReady})
	if len(got) != 0 {
		t.Errorf("unsubscribed handler received %d events", len(got))
	}
}

func TestUnsubscribeAll_RemovesAcrossTenants(t *testing.T) {
	b := New()

	var got []Event
	b.Subscribe("tenant-a", "client", collect(&got))
	b.Subscribe("tenant-b", "client", collect(&got))
	b.UnsubscribeAll("client")

	b.Publish("tenant-a", Event{Name: protocol.EventBotReady})
	b.Publish("tenant-b", Event{Name: protocol.EventBotReady})
	if len(got) != 0 {
		t.Errorf("handler received %d events after UnsubscribeAll", len(got))
	}
}

func TestDropTenant_ClearsRetention(t *testing.T) {
	b := New()
	b.Publish("tenant-a", Event{Name: protocol.EventQRCode, Payload: "qr-1"})
	b.DropTenant("tenant-a")

	var got []Event
	b.Subscribe("tenant-a", "late", collect(&got))
	if len(got) != 0 {
		t.Errorf("dropped tenant still replayed %d events", len(got))
	}
}
