package handlers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculo/speculo/internal/avatar"
)

func newRunningHub(t *testing.T, machine *avatar.Machine) *WebSocketHub {
	t.Helper()
	hub := NewWebSocketHub(machine)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receiveMessage(t *testing.T, client *MockClient) avatar.BroadcastMessage {
	t.Helper()
	select {
	case data := <-client.SendChan:
		var msg avatar.BroadcastMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return avatar.BroadcastMessage{}
	}
}

func TestWebSocketHub_BroadcastReachesAllClients(t *testing.T) {
	hub := newRunningHub(t, nil)

	first := &MockClient{SendChan: make(chan []byte, 8)}
	second := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(first)
	hub.Register(second)

	hub.Broadcast(avatar.BroadcastMessage{Type: "mic_start"})

	assert.Equal(t, "mic_start", receiveMessage(t, first).Type)
	assert.Equal(t, "mic_start", receiveMessage(t, second).Type)
}

func TestWebSocketHub_IncomingDrivesMachineAndRelays(t *testing.T) {
	machine := avatar.NewMachine(avatar.StateIdle)
	hub := newRunningHub(t, machine)

	display := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(display)

	hub.HandleIncoming([]byte(`{"type":"user_presence","payload":"detected"}`))

	assert.Equal(t, avatar.StateAware, machine.State())
	relayed := receiveMessage(t, display)
	assert.Equal(t, "user_presence", relayed.Type)
	assert.Equal(t, "detected", relayed.Payload)
}

func TestWebSocketHub_IncomingUnmappedStillRelays(t *testing.T) {
	machine := avatar.NewMachine(avatar.StateIdle)
	hub := newRunningHub(t, machine)

	display := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(display)

	hub.HandleIncoming([]byte(`{"type":"weather_update","payload":"rain"}`))

	assert.Equal(t, avatar.StateIdle, machine.State())
	assert.Equal(t, "weather_update", receiveMessage(t, display).Type)
}

func TestWebSocketHub_DropsUnparsableAndEmpty(t *testing.T) {
	hub := newRunningHub(t, nil)

	display := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(display)

	hub.HandleIncoming([]byte(`{not json`))
	hub.HandleIncoming([]byte(`{"payload":"no type"}`))

	select {
	case data := <-display.SendChan:
		t.Fatalf("unexpected broadcast: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketHub_SlowClientIsDisconnected(t *testing.T) {
	hub := newRunningHub(t, nil)

	slow := &MockClient{SendChan: make(chan []byte)} // unbuffered, never read
	healthy := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(slow)
	hub.Register(healthy)

	hub.Broadcast(avatar.BroadcastMessage{Type: "mic_start"})
	assert.Equal(t, "mic_start", receiveMessage(t, healthy).Type)

	// The slow client's channel was closed when it couldn't keep up.
	select {
	case _, open := <-slow.SendChan:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("slow client channel was not closed")
	}

	// Subsequent broadcasts still reach the healthy client.
	hub.Broadcast(avatar.BroadcastMessage{Type: "mic_stop"})
	assert.Equal(t, "mic_stop", receiveMessage(t, healthy).Type)
}

func TestWebSocketHub_Unregister(t *testing.T) {
	hub := newRunningHub(t, nil)

	display := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(display)
	hub.Unregister(display)

	_, open := <-display.SendChan
	assert.False(t, open)
}

func TestWebSocketHub_RegisterAndUnregisterReturnAfterStop(t *testing.T) {
	hub := NewWebSocketHub(nil)
	go hub.Run()

	display := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(display)
	hub.Stop()

	// The event loop is gone; a pump goroutine's deferred unregister (or a
	// late handshake's register) must still return instead of blocking.
	done := make(chan struct{})
	go func() {
		hub.Unregister(display)
		hub.Register(&MockClient{SendChan: make(chan []byte, 8)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("register/unregister blocked after hub stop")
	}
}
