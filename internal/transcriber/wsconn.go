package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

// dialWebsocket opens a websocket and classifies rejected credentials as
// fatal so the client stops retrying.
func dialWebsocket(ctx context.Context, provider, rawURL string, headers http.Header) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			err = fmt.Errorf("%s: websocket dial: status %d: %w", provider, resp.StatusCode, err)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, NewFatalTranscriptionError(err)
			}
			return nil, err
		}
		return nil, fmt.Errorf("%s: websocket dial: %w", provider, err)
	}
	return conn, nil
}

// readError maps a clean close to io.EOF.
func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	if errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

