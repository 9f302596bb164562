package host

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 15 * time.Second

// WebsocketDialer returns a Dialer that attaches to the host's websocket
// endpoint and presents it as a byte stream.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
		conn, resp, err := d.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsStream{conn: conn}, nil
	}
}

// wsStream adapts a message-framed websocket connection to io.ReadWriteCloser.
// Each Write sends one binary message; Read drains messages in order.
type wsStream struct {
	conn *websocket.Conn
	r    io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
