package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pulse/messaging-app/internal/chat"
	"github.com/pulse/messaging-app/internal/protocol"
)

// Session is a live connection to the messaging server. It owns one Timeline
// per conversation, reconciles incoming events into them, and acknowledges
// messages from other participants automatically.
type Session struct {
	conn   net.Conn
	selfID int64
	ready  chan struct{}

	mu        sync.Mutex
	timelines map[int64]*Timeline
	nextTemp  int64 // descending temp ids for optimistic messages

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	// Optional callbacks, invoked from the read loop. Set them before any
	// traffic arrives (right after Dial).
	OnMessage func(conversationID int64, msg chat.Message)
	OnTyping  func(conversationID, userID int64, isTyping bool)
	OnRead    func(conversationID, userID, messageID int64)
}

// Dial connects and authenticates to the server's /ws endpoint. The
// credential is passed as the "token" query parameter, matching what the
// server expects. The returned session is not ready until the server's
// connected frame arrives; use WaitForReady.
func Dial(ctx context.Context, rawURL string, credential string) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	s := &Session{
		conn:      conn,
		ready:     make(chan struct{}),
		timelines: make(map[int64]*Timeline),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// WaitForReady blocks until the server confirms the session or the context
// expires.
func (s *Session) WaitForReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return fmt.Errorf("client: session closed before ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserID returns the authenticated user id learned from the connected frame.
// Valid only after WaitForReady.
func (s *Session) UserID() int64 {
	return s.selfID
}

// SeedHistory loads a history snapshot into the conversation's timeline.
func (s *Session) SeedHistory(conversationID int64, msgs []chat.Message) {
	s.timeline(conversationID).Seed(msgs)
}

// Messages returns the conversation's timeline contents in order.
func (s *Session) Messages(conversationID int64) []chat.Message {
	return s.timeline(conversationID).Messages()
}

// SendMessage submits a text message. The message appears in the local
// timeline immediately under a temporary id; the server echo later promotes
// it to the persisted message.
func (s *Session) SendMessage(conversationID int64, content string) error {
	s.mu.Lock()
	s.nextTemp--
	temp := s.nextTemp
	s.mu.Unlock()

	s.timeline(conversationID).Add(chat.Message{
		ID:             temp,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Type:           chat.TypeText,
		Content:        content,
		Timestamp:      time.Now(),
	})

	return s.send(protocol.SubmitMsg{
		Type:           protocol.TypeMessage,
		ConversationID: conversationID,
		Message: protocol.OutgoingMessage{
			Type:    string(chat.TypeText),
			Content: content,
		},
	})
}

// SendMedia submits an image or video message referencing an uploaded blob.
func (s *Session) SendMedia(conversationID int64, typ chat.MessageType, mediaKey, caption string) error {
	return s.send(protocol.SubmitMsg{
		Type:           protocol.TypeMessage,
		ConversationID: conversationID,
		Message: protocol.OutgoingMessage{
			Type:     string(typ),
			Content:  caption,
			MediaKey: mediaKey,
		},
	})
}

// SendTyping reports a typing indicator transition. Wire it to a
// TypingNotifier's emit callback.
func (s *Session) SendTyping(conversationID int64, isTyping bool) error {
	return s.send(protocol.TypingMsg{
		Type:           protocol.TypeTyping,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

// MarkRead acknowledges messages up to and including messageID.
func (s *Session) MarkRead(conversationID, messageID int64) error {
	return s.send(protocol.MarkAsReadMsg{
		Type:           protocol.TypeMarkAsRead,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
}

// Ping sends a keepalive ping.
func (s *Session) Ping() error {
	return s.send(protocol.PingMsg{Type: protocol.TypePing})
}

// Close tears down the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := wsutil.WriteClientText(s.conn, data); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

func (s *Session) timeline(conversationID int64) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timelines[conversationID]
	if !ok {
		t = NewTimeline(s.selfID)
		s.timelines[conversationID] = t
	}
	return t
}

// readLoop consumes server frames until the connection closes.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		data, err := wsutil.ReadServerText(s.conn)
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("client: read: %v", err)
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("client: bad frame: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeConnected:
		var m protocol.ConnectedMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return
		}
		s.mu.Lock()
		s.selfID = m.UserID
		for _, t := range s.timelines {
			t.SetSelfID(m.UserID)
		}
		s.mu.Unlock()
		close(s.ready)

	case protocol.TypeNewMessage:
		var m protocol.NewMessageMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil || m.Message == nil {
			return
		}
		appended := s.timeline(m.ConversationID).Add(*m.Message)

		// Someone else's message landed while this session is live, so it
		// has been seen: acknowledge it right away.
		if appended && m.Message.SenderID != s.selfID {
			if err := s.MarkRead(m.ConversationID, m.Message.ID); err != nil {
				log.Printf("client: auto mark read: %v", err)
			}
		}
		if appended && s.OnMessage != nil {
			s.OnMessage(m.ConversationID, *m.Message)
		}

	case protocol.TypeUserTyping:
		var m protocol.UserTypingMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return
		}
		if m.UserID == s.selfID {
			return
		}
		if s.OnTyping != nil {
			s.OnTyping(m.ConversationID, m.UserID, m.IsTyping)
		}

	case protocol.TypeMessageRead:
		var m protocol.MessageReadMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return
		}
		if s.OnRead != nil {
			s.OnRead(m.ConversationID, m.UserID, m.MessageID)
		}

	case protocol.TypeError:
		var m protocol.ErrorMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return
		}
		log.Printf("client: server error code=%s: %s", m.Code, m.Message)

	case protocol.TypePong:
		// keepalive acknowledged

	default:
		log.Printf("client: unknown frame type=%q", env.Type)
	}
}
