package realtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const (
	keepaliveInterval = 25 * time.Second
	resubscribeDelay  = time.Second
)

// Authenticator extracts a user id from an Authorization header value.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Authorizer checks board membership before a stream is attached.
type Authorizer interface {
	RequireMember(ctx context.Context, boardID, userID string) (*domain.Board, error)
}

// RunSubscriber consumes envelopes from the Redis channel and forwards them
// to the hub as SSE frames. It resubscribes after failures and returns when
// ctx is canceled.
func RunSubscriber(ctx context.Context, rdb *redis.Client, channel string, hub *Hub, logger *log.Logger) {
	for {
		sub := rdb.Subscribe(ctx, channel)
		msgs := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-msgs:
				if !ok {
					break recv
				}
				var env Envelope
				if err := sonic.ConfigStd.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.WithError(err).Warn("drop malformed envelope")
					continue
				}
				hub.Broadcast(env.BoardID, formatFrame(env.Event, env.Data))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("event subscription dropped, resubscribing")
		time.Sleep(resubscribeDelay)
	}
}

func formatFrame(event string, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(event) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// StreamHandler attaches a server-sent events session to a board's channel.
// EventSource cannot set headers, so a ?token= query parameter is accepted as
// a bearer token fallback.
func StreamHandler(hub *Hub, auth Authenticator, boards Authorizer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("boardId")
		ctx := c.Request().Context()
		if _, err := boards.RequireMember(ctx, boardID, userID); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return c.String(http.StatusNotFound, err.Error())
			case errors.Is(err, domain.ErrForbidden):
				return c.String(http.StatusForbidden, err.Error())
			default:
				logger.WithError(err).Error("stream membership check")
				return c.String(http.StatusInternalServerError, "server error")
			}
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		frames := hub.Join(boardID)
		defer hub.Leave(boardID, frames)
		logger.WithFields(log.Fields{"board": boardID, "user": userID}).Debug("stream attached")

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					return nil
				}
				if _, err := res.Write(frame); err != nil {
					return nil
				}
				res.Flush()
			case <-keepalive.C:
				if _, err := res.Write([]byte(": keepalive\n\n")); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
