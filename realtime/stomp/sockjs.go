package stomp

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// SockJS frame kinds.
const (
	sockjsOpen      = 'o'
	sockjsHeartbeat = 'h'
	sockjsArray     = 'a'
	sockjsMessage   = 'm'
	sockjsClose     = 'c'
)

type sockjsFrame struct {
	kind     byte
	messages []string
	code     int
	reason   string
}

// decodeSockJSFrame parses one SockJS websocket message.
func decodeSockJSFrame(data []byte) (sockjsFrame, error) {
	if len(data) == 0 {
		return sockjsFrame{}, fmt.Errorf("sockjs: empty frame")
	}
	f := sockjsFrame{kind: data[0]}
	body := data[1:]

	switch f.kind {
	case sockjsOpen, sockjsHeartbeat:
		return f, nil
	case sockjsArray:
		if err := json.Unmarshal(body, &f.messages); err != nil {
			return sockjsFrame{}, fmt.Errorf("sockjs: decode array frame: %w", err)
		}
		return f, nil
	case sockjsMessage:
		var m string
		if err := json.Unmarshal(body, &m); err != nil {
			return sockjsFrame{}, fmt.Errorf("sockjs: decode message frame: %w", err)
		}
		f.kind = sockjsArray
		f.messages = []string{m}
		return f, nil
	case sockjsClose:
		var parts []any
		if err := json.Unmarshal(body, &parts); err != nil {
			return sockjsFrame{}, fmt.Errorf("sockjs: decode close frame: %w", err)
		}
		if len(parts) > 0 {
			if code, ok := parts[0].(float64); ok {
				f.code = int(code)
			}
		}
		if len(parts) > 1 {
			f.reason, _ = parts[1].(string)
		}
		return f, nil
	default:
		return sockjsFrame{}, fmt.Errorf("sockjs: unknown frame type %q", f.kind)
	}
}

// encodeSockJSFrame wraps an outbound payload in the client-to-server
// SockJS array form.
func encodeSockJSFrame(payload []byte) ([]byte, error) {
	return json.Marshal([]string{string(payload)})
}

// endpointURL converts the configured endpoint to the websocket URL to
// dial. With SockJS the raw websocket transport path
// /{server}/{session}/websocket is appended.
func endpointURL(raw string, sockjs bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if sockjs {
		server := fmt.Sprintf("%03d", rand.IntN(1000))
		session := strings.ReplaceAll(uuid.NewString(), "-", "")
		u.Path = strings.TrimRight(u.Path, "/") + "/" + server + "/" + session + "/websocket"
	}
	return u.String(), nil
}
