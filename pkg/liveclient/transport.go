package liveclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"bsrlivetiming/pkg/model"
)

const (
	LivePath = "/live-timing-ws"
	PollPath = "/live-timing"
)

// Endpoints derives the push channel and polling URLs from a server base URL
// like http://host:8080.
func Endpoints(base string) (wsURL, pollURL string, err error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing server url %q", base)
	}
	if u.Host == "" || u.Scheme == "" {
		return "", "", errors.Errorf("server url %q has no host", base)
	}
	ws := *u
	switch u.Scheme {
	case "https":
		ws.Scheme = "wss"
	case "http":
		ws.Scheme = "ws"
	default:
		return "", "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	ws.Path = u.Path + LivePath
	poll := *u
	poll.Path = u.Path + PollPath
	return ws.String(), poll.String(), nil
}

type WebSocketDialer struct {
	url    string
	dialer websocket.Dialer
}

func NewWebSocketDialer(wsURL string) *WebSocketDialer {
	return &WebSocketDialer{
		url: wsURL,
		dialer: websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", d.url)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer
	wmu sync.Mutex
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsChannel) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}

type HTTPFetcher struct {
	url    string
	client *http.Client
}

func NewHTTPFetcher(pollURL string) *HTTPFetcher {
	return &HTTPFetcher{
		url:    pollURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (model.RaceStateSnapshot, error) {
	var snap model.RaceStateSnapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return snap, errors.Wrap(err, "building poll request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return snap, errors.Wrapf(err, "polling %s", f.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, errors.Errorf("polling %s: unexpected status %s", f.url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, errors.Wrap(err, "decoding polled snapshot")
	}
	return snap, nil
}
