package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koinonia/teamchat/internal/chat"
	"github.com/koinonia/teamchat/internal/models"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type snapshotPayload struct {
	Messages []models.Message `json:"messages"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ErrStreamClosed is reported once when the server ends the stream.
var ErrStreamClosed = errors.New("snapshot stream closed by server")

// Streamer opens snapshot streams for one user.
type Streamer struct {
	client *Client
	userID string
	dialer *websocket.Dialer
}

// Stream returns a chat.Subscriber streaming as userID.
func (c *Client) Stream(userID string) *Streamer {
	return &Streamer{
		client: c,
		userID: userID,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type stream struct {
	conn      *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// Subscribe dials the server's snapshot stream. A dropped stream is
// reported through onError and not retried; the caller keeps its last list.
func (s *Streamer) Subscribe(ctx context.Context, conversationID string, onSnapshot func([]models.Message), onError func(error)) (chat.Subscription, error) {
	u, err := s.wsURL(conversationID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode, Body: "websocket handshake rejected"}
		}
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	st := &stream{conn: conn, closed: make(chan struct{})}
	go st.readLoop(ctx, onSnapshot, onError, s.client)
	return st, nil
}

func (s *Streamer) wsURL(conversationID string) (string, error) {
	u, err := url.Parse(s.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/conversations/" + url.PathEscape(conversationID)
	u.RawQuery = url.Values{"user_id": {s.userID}}.Encode()
	return u.String(), nil
}

func (st *stream) readLoop(ctx context.Context, onSnapshot func([]models.Message), onError func(error), c *Client) {
	defer st.conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			st.Close()
		case <-st.closed:
		}
	}()

	report := func(err error) {
		select {
		case <-st.closed:
			return
		default:
		}
		if onError != nil {
			onError(err)
		}
	}

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				report(ErrStreamClosed)
			} else {
				report(fmt.Errorf("snapshot stream failed: %w", err))
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("unreadable stream frame")
			continue
		}

		switch f.Type {
		case "snapshot":
			var p snapshotPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				report(fmt.Errorf("bad snapshot: %w", err))
				continue
			}
			if p.Messages == nil {
				p.Messages = []models.Message{}
			}
			if onSnapshot != nil {
				onSnapshot(p.Messages)
			}
		case "error":
			var p errorPayload
			_ = json.Unmarshal(f.Payload, &p)
			report(errors.New(p.Message))
		default:
			c.logger.Debug().Str("type", f.Type).Msg("ignoring stream frame")
		}
	}
}

// Close ends the stream with a normal close handshake.
func (st *stream) Close() error {
	st.closeOnce.Do(func() {
		close(st.closed)
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = st.conn.Close()
	})
	return nil
}
