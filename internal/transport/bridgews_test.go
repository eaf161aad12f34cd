package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBridgeURL_AppendsTenant(t *testing.T) {
	got, err := bridgeURL("ws://localhost:8088/ws", "34555123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "tenant=34555123") {
		t.Errorf("bridgeURL = %q, missing tenant param", got)
	}
}

func TestBridgeURL_PreservesExistingQuery(t *testing.T) {
	got, err := bridgeURL("ws://localhost:8088/ws?auth=abc", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "auth=abc") || !strings.Contains(got, "tenant=t1") {
		t.Errorf("bridgeURL = %q, want both auth and tenant params", got)
	}
}

func TestDisconnectEvent_CancelledContextIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := disconnectEvent(ctx, errors.New("read: context canceled"))
	if ev.Kind != KindDisconnected {
		t.Fatalf("kind = %v, want disconnected", ev.Kind)
	}
	if !ev.Clean {
		t.Error("local stop should be a clean disconnect")
	}
}

func TestDisconnectEvent_ReadErrorIsRecoverable(t *testing.T) {
	ev := disconnectEvent(context.Background(), errors.New("unexpected EOF"))
	if ev.Clean {
		t.Error("abnormal read error should not be a clean disconnect")
	}
	if ev.Reason == "" {
		t.Error("reason should describe the failure")
	}
}
