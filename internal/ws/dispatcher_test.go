package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/pulse/messaging-app/internal/protocol"
)

// pipeConnection builds a Connection over net.Pipe and returns the peer side
// for reading what the server wrote.
func pipeConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()

	server, peer := net.Pipe()
	c := newConnection("test-conn", 1, server, -1)
	t.Cleanup(func() {
		c.Close()
		peer.Close()
	})
	return c, peer
}

// readFrame reads one server-to-client frame from the peer side.
func readFrame(t *testing.T, peer net.Conn) map[string]interface{} {
	t.Helper()

	peer.SetReadDeadline(time.Now().Add(time.Second))
	data, err := wsutil.ReadServerText(peer)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return m
}

func TestDispatchRoutesToHandler(t *testing.T) {
	c, _ := pipeConnection(t)

	d := NewMessageDispatcher()
	var got protocol.SubmitMsg
	d.Register(protocol.TypeMessage, func(conn *Connection, msg interface{}) {
		got = msg.(protocol.SubmitMsg)
	})

	d.Dispatch(c, []byte(`{"type":"message","conversation_id":10,"message":{"type":"text","content":"hi"}}`))

	if got.ConversationID != 10 || got.Message.Content != "hi" {
		t.Errorf("handler received %+v", got)
	}
}

func TestDispatchPingAnswersPong(t *testing.T) {
	c, peer := pipeConnection(t)

	before := c.LastPing
	d := NewMessageDispatcher()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(c, []byte(`{"type":"ping"}`))
	}()

	frame := readFrame(t, peer)
	<-done

	if frame["type"] != protocol.TypePong {
		t.Errorf("frame type = %v, want %q", frame["type"], protocol.TypePong)
	}
	if !c.LastPing.After(before) && !c.LastPing.Equal(before) {
		t.Error("ping did not refresh LastPing")
	}
}

func TestDispatchUnknownTypeSendsError(t *testing.T) {
	c, peer := pipeConnection(t)

	d := NewMessageDispatcher()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(c, []byte(`{"type":"subscribe"}`))
	}()

	frame := readFrame(t, peer)
	<-done

	if frame["type"] != protocol.TypeError {
		t.Errorf("frame type = %v, want %q", frame["type"], protocol.TypeError)
	}
	if frame["code"] != "unsupported_type" {
		t.Errorf("code = %v, want unsupported_type", frame["code"])
	}
}

func TestDispatchMalformedSendsError(t *testing.T) {
	c, peer := pipeConnection(t)

	d := NewMessageDispatcher()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(c, []byte(`not json`))
	}()

	frame := readFrame(t, peer)
	<-done

	if frame["code"] != "parse_error" {
		t.Errorf("code = %v, want parse_error", frame["code"])
	}
}

func TestTrySendDropsWhenFull(t *testing.T) {
	server, peer := net.Pipe()
	defer peer.Close()

	// No reader on the peer side, so the write loop blocks on the first
	// frame and the outbox fills up.
	c := newConnection("test-conn", 1, server, -1)
	defer c.Close()

	frame := []byte(`{"type":"new_message"}`)
	accepted := 0
	for i := 0; i < outboxSize+8; i++ {
		if c.TrySend(frame) {
			accepted++
		}
	}

	if accepted > outboxSize+1 {
		t.Errorf("accepted %d frames, want at most %d", accepted, outboxSize+1)
	}
	if accepted == 0 {
		t.Error("no frames accepted")
	}

	// A closed connection refuses everything.
	c.Close()
	if c.TrySend(frame) {
		t.Error("closed connection accepted a frame")
	}
}

// Interface check: the server connection must satisfy the hub's contract.
var _ interface {
	ConnID() string
	UserID() int64
	TrySend(data []byte) bool
} = (*Connection)(nil)
