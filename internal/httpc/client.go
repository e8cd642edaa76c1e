// Package httpc builds the network clients used to reach the Live API.
// Use these instead of http.DefaultClient or websocket.DefaultDialer so
// connect and handshake timeouts are always set.
package httpc

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts for outbound connections.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultConnectTimeout   = 10 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	DefaultIdleConnTimeout  = 90 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

func netDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: DefaultKeepAlive,
	}
}

// NewClient creates an HTTP client for SDK calls.
// A zero timeout means DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           netDialer().DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			TLSHandshakeTimeout:   DefaultHandshakeTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// NewDialer creates a WebSocket dialer for long-lived session sockets.
// The HTTP client timeout does not apply to sockets, so only the connect
// and handshake phases are bounded. A zero handshake means
// DefaultHandshakeTimeout.
func NewDialer(handshake time.Duration) *websocket.Dialer {
	if handshake <= 0 {
		handshake = DefaultHandshakeTimeout
	}
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		NetDialContext:   netDialer().DialContext,
		HandshakeTimeout: handshake,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  16 * 1024,
	}
}
