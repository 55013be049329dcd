// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events delivers domain events to the realtime fan-out service
// over a WebSocket connection.
//
// Delivery is fire-and-forget: Publish never blocks the caller and never
// fails a business operation. Events queue into a bounded buffer; when
// the buffer is full the event is dropped and counted. The client
// reconnects with exponential backoff after connection loss.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
)

// Type identifies an event kind on the wire.
type Type string

const (
	OrderCreated       Type = "ORDER_CREATED"
	OrderStatusChanged Type = "ORDER_STATUS_CHANGED"
	OrderPaymentUpdate Type = "ORDER_PAYMENT_UPDATE"
	BatchRegistered    Type = "BATCH_REGISTERED"
	BatchStatusUpdated Type = "BATCH_STATUS_UPDATED"
)

// Event is the wire envelope.
type Event struct {
	Type      Type            `json:"type"`
	MessageID string          `json:"messageId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds an event envelope, marshaling the payload. A payload that
// fails to marshal yields an envelope with no payload rather than an
// error; the sink is advisory.
func New(t Type, payload any) Event {
	e := Event{
		Type:      t,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

// Sink receives domain events. Implementations must not block.
type Sink interface {
	Publish(e Event)
}

// NopSink discards all events. Default when no event endpoint is
// configured.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// WSSink is the WebSocket-backed sink.
type WSSink struct {
	url        string
	serviceKey string
	logger     *slog.Logger
	metrics    *observability.Metrics
	ch         chan Event
	done       chan struct{}
}

// WSConfig configures a WSSink.
type WSConfig struct {
	// URL is the fan-out service WebSocket endpoint.
	URL string

	// ServiceKey authenticates this service to the fan-out endpoint.
	ServiceKey string

	// Buffer is the event queue depth. Defaults to 256.
	Buffer int
}

// NewWSSink builds the sink. Run must be started for events to flow.
func NewWSSink(cfg WSConfig, logger *slog.Logger, metrics *observability.Metrics) *WSSink {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	return &WSSink{
		url:        cfg.URL,
		serviceKey: cfg.ServiceKey,
		logger:     logger,
		metrics:    metrics,
		ch:         make(chan Event, buffer),
		done:       make(chan struct{}),
	}
}

// Publish queues an event without blocking. Drops when the buffer is
// full.
func (s *WSSink) Publish(e Event) {
	select {
	case s.ch <- e:
	default:
		s.metrics.RecordEventDrop()
		s.logger.Warn("event dropped, sink buffer full", "type", string(e.Type))
	}
}

// Run drains the queue onto the WebSocket until ctx is cancelled,
// reconnecting with exponential backoff. Call in its own goroutine.
func (s *WSSink) Run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("event sink connect failed", "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		s.logger.Info("event sink connected", "url", s.url)

		if err := s.pump(ctx, conn); err != nil {
			s.logger.Warn("event sink connection lost", "error", err)
		}
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Done is closed once Run has exited.
func (s *WSSink) Done() <-chan struct{} {
	return s.done
}

func (s *WSSink) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return nil, err
	}

	auth := map[string]string{"type": "AUTH", "serviceKey": s.serviceKey}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *WSSink) pump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case e := <-s.ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				// The event is lost; requeueing would reorder the stream.
				s.metrics.RecordEventDrop()
				return err
			}
		}
	}
}
