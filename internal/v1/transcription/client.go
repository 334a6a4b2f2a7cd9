// Package transcription implements the transcription stream client: the
// relay's single outbound duplex connection per room to the external
// transcription backend. Its sender/receiver/closer goroutine split and
// channel-first API are modeled on a channel-driven streaming-transcription
// wrapper; its connect attempt is wrapped in a circuit breaker shared by
// every room's client.
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/metrics"
	"github.com/scribear/relay/internal/v1/types"
)

// State is the connection lifecycle of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind distinguishes the event types the room layer subscribes to.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventIPTranscript EventKind = "ipTranscription"
	EventFinal        EventKind = "finalTranscription"
	EventError        EventKind = "error"
)

// Event is emitted on the Client's Events channel. Only one of Transcript,
// CloseCode/CloseReason, or Err is populated, depending on Kind.
type Event struct {
	Kind        EventKind
	Transcript  *types.TranscriptMessage
	CloseCode   int
	CloseReason string
	Err         error
}

const dialTimeout = 10 * time.Second

// authFrame is the first handshake frame sent to the backend.
type authFrame struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

// configFrame is the second handshake frame sent to the backend.
type configFrame struct {
	Type   string       `json:"type"`
	Config configFields `json:"config"`
}

type configFields struct {
	SampleRate  int `json:"sample_rate"`
	NumChannels int `json:"num_channels"`
}

// incomingFrame is the shape used to sniff the type tag before decoding into
// a full types.TranscriptMessage.
type incomingFrame struct {
	Type string `json:"type"`
}

// Client owns the duplex connection to the transcription backend for
// exactly one room. Callers must not reuse a Client across rooms or across
// a disconnect/reconnect — by design there is no automatic reconnection.
type Client struct {
	serviceURL string
	apiKey     string
	breaker    *gobreaker.CircuitBreaker

	sessionID types.SessionID
	cfg       types.TranscriptionSessionConfig

	conn  *websocket.Conn
	state atomic.Int32

	// audioMu makes the closed check and the channel send in ForwardAudio
	// atomic with respect to closeAudioIn, so a teardown racing a concurrent
	// audio frame drops the frame instead of panicking on a closed channel.
	audioMu     sync.Mutex
	audioClosed bool
	audioIn     chan []byte

	Events chan Event

	sendDone chan error
	recvDone chan error
}

// NewClient builds a Client for a single room. It does not connect; call
// Connect to perform the handshake.
func NewClient(serviceURL, apiKey string, breaker *gobreaker.CircuitBreaker, sessionID types.SessionID, cfg types.TranscriptionSessionConfig) *Client {
	c := &Client{
		serviceURL: serviceURL,
		apiKey:     apiKey,
		breaker:    breaker,
		sessionID:  sessionID,
		cfg:        cfg,
		audioIn:    make(chan []byte, 64),
		Events:     make(chan Event, 64),
		sendDone:   make(chan error, 1),
		recvDone:   make(chan error, 1),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State returns the client's current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.TranscriptionBackendState.WithLabelValues(string(c.sessionID)).Set(float64(s))
}

// buildURL composes scheme://host/transcription_stream/{providerKey} from
// the configured service URL and the room's pinned provider key.
func (c *Client) buildURL() (string, error) {
	base, err := url.Parse(c.serviceURL)
	if err != nil {
		return "", fmt.Errorf("parse transcription service url: %w", err)
	}
	scheme := "ws"
	if c.cfg.UseSSL {
		scheme = "wss"
	}
	base.Scheme = scheme
	base.Path = strings.TrimSuffix(base.Path, "/") + "/transcription_stream/" + c.cfg.ProviderKey
	return base.String(), nil
}

// Connect opens the stream, performs the mandatory AUTH/CONFIG handshake,
// and on success starts the sender/receiver goroutines and emits
// EventConnected. The dial attempt is wrapped in a circuit breaker so a
// backend outage fails fast for subsequent rooms instead of piling up
// blocked dial attempts.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	targetURL, err := c.buildURL()
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, _, err := dialer.DialContext(dialCtx, targetURL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		metrics.CircuitBreakerFailures.WithLabelValues("transcription_backend").Inc()
		c.setState(StateDisconnected)
		logging.Error(ctx, "transcription backend connect failed", zap.String("session_id", string(c.sessionID)), zap.Error(err))
		c.emitError(err)
		return fmt.Errorf("connect transcription backend: %w", err)
	}
	c.conn = result.(*websocket.Conn)

	if err := c.handshake(); err != nil {
		c.conn.Close()
		c.setState(StateDisconnected)
		c.emitError(err)
		return err
	}

	c.setState(StateConnected)
	c.Events <- Event{Kind: EventConnected}

	go c.sender()
	go c.receiver()
	go c.closer(ctx)

	return nil
}

func (c *Client) handshake() error {
	auth := authFrame{Type: "AUTH", APIKey: c.apiKey}
	if err := c.conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	cfg := configFrame{
		Type: "CONFIG",
		Config: configFields{
			SampleRate:  c.cfg.SampleRate,
			NumChannels: c.cfg.NumChannels,
		},
	}
	if err := c.conn.WriteJSON(cfg); err != nil {
		return fmt.Errorf("send config frame: %w", err)
	}

	return nil
}

// ForwardAudio enqueues a binary audio frame for the backend. Frames
// received before the connected state (or after disconnection) are dropped
// silently per the stateless best-effort contract. The send is a
// non-blocking select under audioMu, so the lock is never held across
// socket I/O and a concurrent teardown cannot close audioIn mid-send.
func (c *Client) ForwardAudio(data []byte) {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	if c.audioClosed || c.State() != StateConnected {
		metrics.AudioFramesForwarded.WithLabelValues("dropped_not_connected").Inc()
		return
	}
	select {
	case c.audioIn <- data:
		metrics.AudioFramesForwarded.WithLabelValues("queued").Inc()
		metrics.AudioFrameSize.Observe(float64(len(data)))
	default:
		metrics.AudioFramesForwarded.WithLabelValues("dropped_backpressure").Inc()
	}
}

// closeAudioIn closes the audio channel exactly once, under the same lock
// ForwardAudio sends under.
func (c *Client) closeAudioIn() {
	c.audioMu.Lock()
	if !c.audioClosed {
		c.audioClosed = true
		close(c.audioIn)
	}
	c.audioMu.Unlock()
}

func (c *Client) sender() {
	defer close(c.sendDone)
	for data := range c.audioIn {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			c.sendDone <- err
			return
		}
	}
}

func (c *Client) receiver() {
	defer close(c.recvDone)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.recvDone <- err
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleIncoming(data)
	}
}

func (c *Client) handleIncoming(data []byte) {
	var peek incomingFrame
	if err := json.Unmarshal(data, &peek); err != nil {
		logging.Warn(context.Background(), "malformed transcript frame from backend", zap.String("session_id", string(c.sessionID)))
		return
	}

	var kind EventKind
	switch peek.Type {
	case types.TranscriptTypeInProgress:
		kind = EventIPTranscript
	case types.TranscriptTypeFinal:
		kind = EventFinal
	default:
		return
	}

	var msg types.TranscriptMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn(context.Background(), "malformed transcript payload from backend", zap.String("session_id", string(c.sessionID)))
		return
	}

	select {
	case c.Events <- Event{Kind: kind, Transcript: &msg}:
	default:
		logging.Warn(context.Background(), "transcript event channel full, dropping", zap.String("session_id", string(c.sessionID)))
	}
}

func (c *Client) emitError(err error) {
	select {
	case c.Events <- Event{Kind: EventError, Err: err}:
	default:
	}
}

// closer waits for either the sender or receiver to finish, tears down the
// connection, and emits a terminal disconnected/error event.
func (c *Client) closer(ctx context.Context) {
	var err error
	select {
	case err = <-c.sendDone:
	case err = <-c.recvDone:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.setState(StateDisconnected)
	if c.conn != nil {
		c.conn.Close()
	}
	c.closeAudioIn()

	code := types.CloseNormal
	reason := ""
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	if err != nil {
		select {
		case c.Events <- Event{Kind: EventError, Err: err}:
		default:
		}
	}

	select {
	case c.Events <- Event{Kind: EventDisconnected, CloseCode: code, CloseReason: reason}:
	default:
	}
}

// Disconnect transitions the client to disconnected from any state, sending
// a normal close frame to the backend. Safe to call more than once.
func (c *Client) Disconnect() {
	if c.State() == StateDisconnected {
		return
	}
	c.setState(StateDisconnected)
	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(types.CloseNormal, ""),
			time.Now().Add(5*time.Second),
		)
		c.conn.Close()
	}
	c.closeAudioIn()
}
