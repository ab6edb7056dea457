package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDevice captures audio from an audio bridge that streams binary
// frames over a websocket (for example a browser tab forwarding microphone
// data). A text frame "end" or a normal close ends the stream.
type WebSocketDevice struct {
	URL      string
	MimeType string
	Dialer   *websocket.Dialer
}

// Open dials the bridge.
func (d WebSocketDevice) Open(ctx context.Context) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, d.URL)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNoDevice, d.URL, err)
	}

	mime := d.MimeType
	if mime == "" {
		mime = "audio/webm;codecs=opus"
	}
	return &wsStream{conn: conn, mime: mime}, nil
}

type wsStream struct {
	conn      *websocket.Conn
	mime      string
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Read(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch messageType {
		case websocket.BinaryMessage:
			if len(data) > 0 {
				return data, nil
			}
		case websocket.TextMessage:
			if string(data) == "end" {
				return nil, io.EOF
			}
		}
	}
}

func (s *wsStream) MimeType() string { return s.mime }

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "recording stopped")
		// 对端可能已经断开，写关闭帧失败不影响释放连接。
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("[voice] write close frame: %v", err)
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
