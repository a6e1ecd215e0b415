package events

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestSocketTransportAbsentSocketIsSilentSuccess(t *testing.T) {
	st := NewSocketTransport(filepath.Join(t.TempDir(), "does-not-exist.sock"))
	if err := st.Emit(Envelope{EventType: InstanceStarted}); err != nil {
		t.Fatalf("Emit against an absent socket should succeed silently, got %v", err)
	}
}

func TestSocketTransportDeliversEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kgsm.sock")
	listener, err := NewTestSocketListener(path)
	if err != nil {
		t.Fatalf("NewTestSocketListener: %v", err)
	}
	defer listener.Close()

	st := NewSocketTransport(path)
	want := Envelope{
		EventType:   InstanceStarted,
		Data:        InstanceData{InstanceName: "minecraft"},
		Hostname:    "host1",
		KGSMVersion: "1.0.0",
	}

	errCh := make(chan error, 1)
	go func() { errCh <- st.Emit(want) }()

	got, err := listener.AcceptOne(2 * time.Second)
	if err != nil {
		t.Fatalf("AcceptOne: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if got.EventType != want.EventType || got.Hostname != want.Hostname {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestWebhookTransportSignsAndDelivers(t *testing.T) {
	srv := NewTestWebhookServer()
	defer srv.Close()

	wt := NewWebhookTransport([]string{srv.URL}, "s3cr3t", 2*time.Second, 1, "1.0.0")
	env := Envelope{EventType: InstanceStopped, Data: InstanceData{InstanceName: "rust"}}
	if err := wt.Emit(env); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case got := <-srv.Received:
		if got.EventType != InstanceStopped {
			t.Errorf("got EventType %q, want %q", got.EventType, InstanceStopped)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook server never received the envelope")
	}
}

func TestDispatcherEmitNoTransportsIsNoop(t *testing.T) {
	d := NewDispatcher(Config{})
	if err := d.Emit(InstanceCreated, InstanceData{InstanceName: "x"}); err != nil {
		t.Fatalf("Emit with no transports should be a no-op, got %v", err)
	}
}

func TestEnvelopeMarshalsDataPolymorphically(t *testing.T) {
	env := Envelope{
		EventType: InstanceVersionUpdated,
		Data:      VersionUpdatedData{InstanceName: "ark", OldVersion: "1", NewVersion: "2"},
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	data, ok := decoded["Data"].(map[string]any)
	if !ok {
		t.Fatalf("Data field missing or wrong shape: %v", decoded)
	}
	if data["NewVersion"] != "2" {
		t.Errorf("got NewVersion %v, want 2", data["NewVersion"])
	}
}
