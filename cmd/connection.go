// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/Thermoquad/flashdeck/pkg/api"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/monitor"
	"github.com/Thermoquad/flashdeck/pkg/station"
)

// snapshotSource yields serial buffer snapshots as they change
type snapshotSource interface {
	Next(ctx context.Context) (monitor.Snapshot, error)
	Close() error
}

// localSource polls the in-process monitor
type localSource struct {
	st       *station.Station
	interval time.Duration
	last     monitor.Snapshot
}

func newLocalSource(st *station.Station) *localSource {
	return &localSource{st: st, interval: 100 * time.Millisecond}
}

func (l *localSource) Next(ctx context.Context) (monitor.Snapshot, error) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		if snap := l.st.Buffer(); snap.Differs(l.last) {
			l.last = snap
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return monitor.Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *localSource) Close() error {
	l.st.StopMonitor()
	return nil
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// remoteSource reads CBOR snapshot frames from a flashdeck server
type remoteSource struct {
	conn   *websocket.Conn
	closed bool
}

func (r *remoteSource) Next(ctx context.Context) (monitor.Snapshot, error) {
	if r.closed {
		return monitor.Snapshot{}, ErrConnectionClosed
	}
	for {
		messageType, data, err := r.conn.ReadMessage()
		if err != nil {
			r.closed = true
			if ctx.Err() != nil {
				return monitor.Snapshot{}, ctx.Err()
			}
			return monitor.Snapshot{}, err
		}
		// CBOR frames only
		if messageType != websocket.BinaryMessage {
			continue
		}
		return api.DecodeSnapshot(data)
	}
}

func (r *remoteSource) Close() error {
	r.closed = true
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return r.conn.Close()
}

// remoteEndpoint is a flashdeck server base URL plus credentials
type remoteEndpoint struct {
	base          *url.URL
	username      string
	password      string
	skipSSLVerify bool
}

func parseRemote(raw, username, password string, skipSSLVerify bool) (*remoteEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use http://, https://, ws:// or wss://)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid URL: missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &remoteEndpoint{base: u, username: username, password: password, skipSSLVerify: skipSSLVerify}, nil
}

func (e *remoteEndpoint) secure() bool {
	return e.base.Scheme == "https" || e.base.Scheme == "wss"
}

// streamURL returns the WebSocket address of the CBOR serial stream
func (e *remoteEndpoint) streamURL() string {
	u := *e.base
	u.Scheme = "ws"
	if e.secure() {
		u.Scheme = "wss"
	}
	u.Path += "/ws/serial"
	u.RawQuery = "format=" + api.FormatCBOR
	return u.String()
}

// apiURL returns the HTTP address of an API path
func (e *remoteEndpoint) apiURL(path string) string {
	u := *e.base
	u.Scheme = "http"
	if e.secure() {
		u.Scheme = "https"
	}
	u.Path += path
	u.RawQuery = ""
	return u.String()
}

func (e *remoteEndpoint) headers() http.Header {
	headers := http.Header{}
	if e.username != "" && e.password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(e.username + ":" + e.password))
		headers.Set("Authorization", "Basic "+credentials)
	}
	return headers
}

func (e *remoteEndpoint) tlsConfig() *tls.Config {
	if !e.secure() {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: e.skipSSLVerify}
}

// OpenStream connects to the server's serial stream
func (e *remoteEndpoint) OpenStream(ctx context.Context) (*remoteSource, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  e.tlsConfig(),
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, e.streamURL(), e.headers())
	if err != nil {
		if resp != nil {
			return nil, deverr.Newf(deverr.NotFound, "connect", "WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, deverr.Newf(deverr.NotFound, "connect", "WebSocket connection failed: %v", err)
	}

	// unblock ReadMessage once the caller is done
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return &remoteSource{conn: conn}, nil
}

// Call posts body to an API path and decodes the operation result
func (e *remoteEndpoint) Call(ctx context.Context, path string, body interface{}) (deverr.Result, error) {
	var result deverr.Result

	payload, err := json.Marshal(body)
	if err != nil {
		return result, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL(path), bytes.NewReader(payload))
	if err != nil {
		return result, err
	}
	req.Header = e.headers()
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: e.tlsConfig()},
	}
	resp, err := client.Do(req)
	if err != nil {
		return result, deverr.Wrap(deverr.NotFound, "connect", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("unexpected response (HTTP %d): %v", resp.StatusCode, err)
	}
	return result, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("FLASHDECK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)

	return string(passwordBytes), nil
}
