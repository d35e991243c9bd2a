package backend

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"netpulse/pkg/models"
)

const (
	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// pushEnvelope is the wire framing of the push channel. Only "new-ip"
// events are delivered today; anything else is skipped.
type pushEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PushSubscriber consumes the backend's push channel over WebSocket with
// automatic reconnection. Events are delivered unordered relative to
// polling; delivery into the channel is non-blocking and drops when the
// consumer falls behind.
type PushSubscriber struct {
	url    string
	events chan<- models.PushEvent
	log    *logrus.Logger
	done   chan struct{}
	wg     sync.WaitGroup

	// Stats
	messagesReceived uint64
	eventsParsed     uint64
	errors           uint64
	reconnects       uint64
	dropped          uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewPushSubscriber creates a subscriber for the push endpoint at url.
func NewPushSubscriber(url string, events chan<- models.PushEvent, log *logrus.Logger) *PushSubscriber {
	return &PushSubscriber{
		url:    url,
		events: events,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start begins the WebSocket connection in a goroutine.
func (s *PushSubscriber) Start() {
	if s.running.Swap(true) {
		s.log.Warn("push subscriber already running")
		return
	}
	s.wg.Add(1)
	go s.runLoop()
	s.log.WithField("url", s.url).Info("push subscriber started")
}

// Stop gracefully shuts down the subscriber.
func (s *PushSubscriber) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.log.Info("push subscriber stopped")
}

// Connected reports whether the subscriber currently holds a live
// connection.
func (s *PushSubscriber) Connected() bool {
	return s.connected.Load()
}

// Stats returns current statistics.
func (s *PushSubscriber) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected":         s.connected.Load(),
		"messages_received": atomic.LoadUint64(&s.messagesReceived),
		"events_parsed":     atomic.LoadUint64(&s.eventsParsed),
		"errors":            atomic.LoadUint64(&s.errors),
		"reconnects":        atomic.LoadUint64(&s.reconnects),
		"dropped":           atomic.LoadUint64(&s.dropped),
	}
}

func (s *PushSubscriber) runLoop() {
	defer s.wg.Done()

	reconnectDelay := initialReconnectDelay

	for s.running.Load() {
		err := s.connectAndStream()
		if err != nil {
			atomic.AddUint64(&s.errors, 1)
			atomic.AddUint64(&s.reconnects, 1)
			s.log.WithError(err).WithField("retry_in", reconnectDelay).Warn("push connection lost")
		}

		select {
		case <-s.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (s *PushSubscriber) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	s.log.WithField("url", s.url).Debug("connecting to push channel")
	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{
			"type": "new-ip",
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	s.connected.Store(true)
	s.log.Info("push channel connected")

	conn.SetPongHandler(func(string) error {
		return nil
	})

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-s.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for s.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.connected.Store(false)
				return nil
			}
			s.connected.Store(false)
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		atomic.AddUint64(&s.messagesReceived, 1)

		event, err := ParsePushMessage(message)
		if err != nil {
			s.log.WithError(err).Debug("unparsable push message")
			continue
		}
		if event == nil {
			// Not a new-ip event, nothing to deliver.
			continue
		}

		atomic.AddUint64(&s.eventsParsed, 1)
		select {
		case s.events <- *event:
		default:
			if atomic.AddUint64(&s.dropped, 1)%1000 == 0 {
				s.log.Warn("push event channel full, dropping events")
			}
		}
	}

	s.connected.Store(false)
	return nil
}

// ParsePushMessage decodes one push-channel frame. It returns (nil, nil)
// for well-formed frames of a type the engine does not consume, and an
// error for frames that cannot be decoded or carry no IP.
func ParsePushMessage(raw []byte) (*models.PushEvent, error) {
	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != "new-ip" {
		return nil, nil
	}

	var event models.PushEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		return nil, fmt.Errorf("decode new-ip event: %w", err)
	}
	if event.IP == "" {
		return nil, fmt.Errorf("new-ip event missing ip")
	}
	return &event, nil
}
