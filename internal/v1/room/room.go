// Package room implements the authoritative Room Manager: the
// sessionId-keyed map of live rooms and the concurrent-safe operations over
// it. Its locking discipline — a single mutex held only across
// map-mutating sections, never across socket I/O — is carried over from the
// video-relay Room/Hub split this package is adapted from.
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/metrics"
	"github.com/scribear/relay/internal/v1/transcription"
	"github.com/scribear/relay/internal/v1/transport"
	"github.com/scribear/relay/internal/v1/types"
)

func marshalTranscript(msg *types.TranscriptMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// Room is one kiosk session: at most one audio source, any number of
// transcript subscribers, and at most one transcription backend connection.
type Room struct {
	SessionID types.SessionID
	Config    types.TranscriptionSessionConfig
	CreatedAt time.Time

	mu          sync.RWMutex
	source      *transport.Source
	subscribers map[string]*transport.Subscriber
	client      *transcription.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newRoom constructs a Room. GC (removing the room once it's empty) is
// driven by the owning Manager, not the Room itself.
func newRoom(sessionID types.SessionID, cfg types.TranscriptionSessionConfig) *Room {
	r := &Room{
		SessionID:   sessionID,
		Config:      cfg,
		CreatedAt:   time.Now(),
		subscribers: make(map[string]*transport.Subscriber),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// HasSource reports whether an audio source is currently attached.
func (r *Room) HasSource() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source != nil
}

// SubscriberCount returns the number of attached transcript subscribers.
func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// TranscriptionConnected reports whether the transcription backend client
// is currently in the connected state.
func (r *Room) TranscriptionConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client != nil && r.client.State() == transcription.StateConnected
}

// Info snapshots the room into the wire-facing RoomInfo shape.
func (r *Room) Info() types.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return types.RoomInfo{
		SessionID:                  r.SessionID,
		HasSource:                  r.source != nil,
		SubscriberCount:            len(r.subscribers),
		TranscriptionConnected:     r.client != nil && r.client.State() == transcription.StateConnected,
		CreatedAt:                  r.CreatedAt,
		TranscriptionSessionConfig: r.Config,
	}
}

func (r *Room) isEmptyLocked() bool {
	return r.source == nil && len(r.subscribers) == 0
}

// close tears every owned connection down with a normal close and cancels
// the room's context. Idempotent.
func (r *Room) close(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(reason)
}

func (r *Room) closeLocked(reason string) {
	r.cancel()

	if r.client != nil {
		r.client.Disconnect()
		r.client = nil
	}
	if r.source != nil {
		r.source.CloseWithCode(types.CloseNormal, reason)
		r.source = nil
	}
	for id, sub := range r.subscribers {
		sub.CloseWithCode(types.CloseNormal, reason)
		delete(r.subscribers, id)
	}
}

func (r *Room) forwardAudio(data []byte) {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()

	if client == nil {
		return
	}
	client.ForwardAudio(data)
}

func (r *Room) broadcast(payload []byte, eventType string) {
	start := time.Now()

	r.mu.RLock()
	targets := make([]*transport.Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		sub.Send(payload)
	}

	metrics.TranscriptBroadcastDuration.Observe(time.Since(start).Seconds())
	metrics.TranscriptEventsEmitted.WithLabelValues(eventType).Inc()
}

// watchTranscriptionEvents drains the transcription client's Events channel
// and translates ipTranscription/finalTranscription into subscriber
// broadcasts, logging connected/disconnected/error transitions. Runs until
// the room's context is cancelled when the room closes; Client never closes
// its Events channel, so the closed-channel return is only a guard. The
// watcher keeps draining this client's events after the room clears or
// replaces r.client.
func (r *Room) watchTranscriptionEvents(client *transcription.Client) {
	defer r.wg.Done()
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return
			}
			r.handleTranscriptionEvent(client, ev)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Room) handleTranscriptionEvent(client *transcription.Client, ev transcription.Event) {
	switch ev.Kind {
	case transcription.EventConnected:
		logging.Info(context.Background(), "transcription backend connected", zap.String("session_id", string(r.SessionID)))
	case transcription.EventDisconnected:
		logging.Info(context.Background(), "transcription backend disconnected",
			zap.String("session_id", string(r.SessionID)),
			zap.Int("code", ev.CloseCode),
			zap.String("reason", ev.CloseReason),
		)
		r.mu.Lock()
		if r.client == client {
			r.client = nil
		}
		r.mu.Unlock()
		return
	case transcription.EventError:
		logging.Warn(context.Background(), "transcription backend error", zap.String("session_id", string(r.SessionID)), zap.Error(ev.Err))
		return
	case transcription.EventIPTranscript, transcription.EventFinal:
		if ev.Transcript == nil {
			return
		}
		payload, err := marshalTranscript(ev.Transcript)
		if err != nil {
			logging.Error(context.Background(), "failed to marshal transcript message", zap.Error(err))
			return
		}
		r.broadcast(payload, ev.Transcript.Type)
	}
}
