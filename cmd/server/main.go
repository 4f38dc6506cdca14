// Command server runs the messaging node: the REST API, the WebSocket
// channel, and the room fanout, backed by Postgres, Redis, and NATS.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/messaging-app/internal/api"
	"github.com/pulse/messaging-app/internal/blob"
	"github.com/pulse/messaging-app/internal/chat"
	"github.com/pulse/messaging-app/internal/config"
	"github.com/pulse/messaging-app/internal/hub"
	"github.com/pulse/messaging-app/internal/identity"
	"github.com/pulse/messaging-app/internal/messaging"
	"github.com/pulse/messaging-app/internal/protocol"
	"github.com/pulse/messaging-app/internal/ratelimit"
	"github.com/pulse/messaging-app/internal/store"
	"github.com/pulse/messaging-app/internal/ws"
)

func main() {
	cfg := config.Load()

	st, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("main: open store: %v", err)
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Redis only backs the rate limiter and the profile cache; both
		// degrade gracefully without it.
		log.Printf("main: redis unavailable at %s: %v", cfg.RedisAddr, err)
	}
	cancel()

	natsCfg := messaging.DefaultConfig()
	natsCfg.URL = cfg.NATSURL
	bus, err := messaging.Connect(natsCfg)
	if err != nil {
		log.Fatalf("main: connect nats: %v", err)
	}
	defer bus.Close()

	rooms := hub.New(bus)
	idClient := identity.NewClient(cfg.IdentityURL, cfg.ServiceToken, rdb)
	mediaClient := blob.NewClient(cfg.MediaURL, cfg.ServiceToken)
	svc := chat.NewService(st, rooms, mediaClient)
	limiter := ratelimit.NewLimiter(rdb)

	dispatcher := ws.NewMessageDispatcher()

	wsCfg := ws.DefaultServerConfig()
	wsCfg.WorkerPoolSize = cfg.WorkerPoolSize
	wsCfg.MaxConnections = cfg.MaxConnections
	wsCfg.ReadTimeout = cfg.ReadTimeout
	wsCfg.WriteTimeout = cfg.WriteTimeout

	auth := func(ctx context.Context, credential string) (int64, error) {
		user, err := idClient.Verify(ctx, credential)
		if err != nil {
			return 0, err
		}
		if !limiter.Allow(ctx, ratelimit.RuleConnect, user.ID) {
			return 0, errors.New("connection rate limit exceeded")
		}
		return user.ID, nil
	}

	server := ws.NewServer(wsCfg, auth, dispatcher.Dispatch)

	server.SetOnConnect(func(c *ws.Connection) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ids, err := st.ConversationIDs(ctx, c.User)
		if err != nil {
			log.Printf("main: load conversations user=%d: %v", c.User, err)
		}
		rooms.Register(c, ids)
	})
	server.SetOnDisconnect(func(c *ws.Connection) {
		rooms.Unregister(c)
	})

	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SubmitMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if !limiter.Allow(ctx, ratelimit.RuleMessage, conn.User) {
			dispatcher.SendError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		var err error
		if m.Message.Type == string(chat.TypeText) || m.Message.Type == "" {
			_, err = svc.SubmitText(ctx, m.ConversationID, conn.User, m.Message.Content)
		} else {
			_, err = svc.SubmitMedia(ctx, m.ConversationID, conn.User,
				chat.MessageType(m.Message.Type), m.Message.MediaKey, m.Message.Content)
		}
		if err != nil {
			sendServiceError(dispatcher, conn, err)
		}
	})

	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := svc.SetTyping(ctx, m.ConversationID, conn.User, m.IsTyping); err != nil {
			sendServiceError(dispatcher, conn, err)
		}
	})

	dispatcher.Register(protocol.TypeMarkAsRead, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.MarkAsReadMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := svc.MarkRead(ctx, m.ConversationID, conn.User, m.MessageID); err != nil {
			sendServiceError(dispatcher, conn, err)
		}
	})

	if err := server.Start(); err != nil {
		log.Fatalf("main: start ws server: %v", err)
	}

	apiServer := api.NewServer(svc, idClient, mediaClient, server.HandleUpgrade)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: apiServer.Router(),
	}

	go func() {
		log.Printf("main: listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main: http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("main: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: http shutdown: %v", err)
	}
	if err := server.Shutdown(); err != nil {
		log.Printf("main: ws shutdown: %v", err)
	}

	log.Println("main: stopped")
}

// sendServiceError maps service-layer sentinel errors to channel error codes.
func sendServiceError(d *ws.MessageDispatcher, conn *ws.Connection, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		d.SendError(conn, "invalid_argument", err.Error())
	case errors.Is(err, chat.ErrUnauthorized):
		d.SendError(conn, "unauthorized", "not a participant of this conversation")
	case errors.Is(err, chat.ErrNotFound):
		d.SendError(conn, "not_found", "conversation not found")
	default:
		log.Printf("main: handler error user=%d: %v", conn.User, err)
		d.SendError(conn, "internal", "internal error")
	}
}
