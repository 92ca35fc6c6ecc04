package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"live-monitor/constant"
	"live-monitor/dto"
	"live-monitor/pkg/eventbus"
	"net/http"
	"sync"
	"time"
)

type WSConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string
}

func (c WSConfig) withDefaults() WSConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * c.PingInterval
	}
	return c
}

const maxClientMessageBytes = 512

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(a.ws.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range a.ws.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
}

// streamNotifications delivers the caller's own lifecycle events and the
// global live feed.
func (a *API) streamNotifications(c *gin.Context) {
	user := currentUser(c)
	a.stream(c, eventbus.UserGroup(user.ID), constant.GroupLives)
}

// streamLive follows one session's transcript. Only the account owner and
// admins may watch it.
func (a *API) streamLive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	session, err := a.store.GetSession(c.Request.Context(), id)
	if err != nil {
		a.internalError(c, err)
		return
	}
	if session == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if _, ok := a.ownedAccount(c, session.AccountId); !ok {
		return
	}
	a.stream(c, eventbus.LiveGroup(id))
}

func (a *API) streamModeration(c *gin.Context) {
	a.stream(c, constant.GroupModeration)
}

// stream subscribes before upgrading so a refused group is answered with a
// plain HTTP error.
func (a *API) stream(c *gin.Context, groups ...string) {
	who := principal(currentUser(c))

	subs := make([]*eventbus.Subscription, 0, len(groups))
	unsubscribe := func() {
		for _, sub := range subs {
			a.bus.Unsubscribe(sub)
		}
	}
	for _, group := range groups {
		sub, err := a.bus.Subscribe(group, who)
		if err != nil {
			unsubscribe()
			switch {
			case errors.Is(err, eventbus.ErrForbidden):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case errors.Is(err, eventbus.ErrInvalidGroup):
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			}
			return
		}
		subs = append(subs, sub)
	}
	defer unsubscribe()

	upgrader := a.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go a.readPump(ctx, cancel, conn)

	if err := a.writePump(ctx, conn, merge(ctx, subs)); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("websocket closed")
	}
}

// readPump discards client frames and keeps the read deadline fresh on pongs.
// Any read error ends the connection.
func (a *API) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	conn.SetReadLimit(maxClientMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(a.ws.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(a.ws.ReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (a *API) writePump(ctx context.Context, conn *websocket.Conn, events <-chan dto.Event) error {
	ping := time.NewTicker(a.ws.PingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(a.ws.WriteTimeout))
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(a.ws.WriteTimeout)); err != nil {
				return err
			}
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(a.ws.WriteTimeout))
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Str("event", event.Type()).Msg("failed to encode event")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(a.ws.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		}
	}
}

// merge fans several subscriptions into one channel, closed once every
// subscription is closed or ctx is done.
func merge(ctx context.Context, subs []*eventbus.Subscription) <-chan dto.Event {
	out := make(chan dto.Event)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(events <-chan dto.Event) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-events:
					if !ok {
						return
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}(sub.Events())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
