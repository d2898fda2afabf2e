package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicewire/voicewire/internal/errors"
)

const (
	// eventBuffer absorbs short consumer stalls without reordering;
	// the read loop blocks rather than drop once it fills.
	eventBuffer = 32

	writeTimeout = 5 * time.Second
)

// Channel is a live duplex connection. Outbound audio is fire-and-forget:
// a frame that cannot be written is dropped and counted, never buffered,
// so capture latency stays flat when the network does not.
type Channel struct {
	conn   *websocket.Conn
	log    *slog.Logger
	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	droppedFrames atomic.Int64
}

// Dial opens the websocket and starts the read loop. The context bounds
// the handshake only; the channel outlives it.
func Dial(ctx context.Context, serverURL string, log *slog.Logger) (*Channel, error) {
	conn, _, err := websocket.Dial(ctx, serverURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConnectionError, "dial voice server").
			WithMetadata("url", serverURL)
	}
	// Audio frames arrive faster than the default limit expects.
	conn.SetReadLimit(1 << 22)

	c := &Channel{
		conn:   conn,
		log:    log,
		events: make(chan Event, eventBuffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields inbound events in wire order. The channel is closed when
// the connection ends, by either side.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send writes one encoded audio frame. After Close, or on a write error,
// the frame is dropped and counted.
func (c *Channel) Send(frame []byte) {
	select {
	case <-c.closed:
		c.droppedFrames.Add(1)
		return
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		c.droppedFrames.Add(1)
		c.log.Debug("audio frame dropped", "error", err)
	}
}

// SendControl writes an utterance boundary marker.
func (c *Channel) SendControl(signal ControlSignal, utteranceID string) error {
	select {
	case <-c.closed:
		return errors.New(errors.ConnectionError, "channel closed")
	default:
	}

	marker := controlMarker{
		Type:        string(signal),
		UtteranceID: utteranceID,
	}
	if signal == StartRecording {
		marker.T = time.Now().UnixMilli()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, marker); err != nil {
		return errors.Wrap(err, errors.ConnectionError, "send control marker").
			WithMetadata("signal", string(signal))
	}
	return nil
}

// DroppedFrames reports how many outbound frames were discarded.
func (c *Channel) DroppedFrames() int64 {
	return c.droppedFrames.Load()
}

// Close tears the connection down and waits for the read loop to exit.
// Safe to call more than once and concurrently with writes.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	<-c.done
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		msgType, data, err := c.conn.Read(context.Background())
		if err != nil {
			select {
			case <-c.closed:
				// Local close, not a failure.
			default:
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
					c.log.Debug("server closed connection", "status", status)
				} else {
					c.emit(ErrorEvent{Message: "connection lost: " + err.Error()})
				}
			}
			return
		}
		if msgType != websocket.MessageText {
			c.log.Warn("unexpected binary message from server", "bytes", len(data))
			continue
		}

		ev, ok := c.decode(data)
		if !ok {
			continue
		}
		if !c.emit(ev) {
			return
		}
	}
}

// decode maps a wire envelope to an Event. Malformed messages are logged
// and dropped; they never tear the channel down.
func (c *Channel) decode(data []byte) (Event, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("malformed server message", "error", err)
		return nil, false
	}

	switch env.Type {
	case "ready":
		return ReadyEvent{}, true

	case "transcript":
		var p transcriptPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn("malformed transcript payload", "error", err)
			return nil, false
		}
		return TranscriptEvent{Text: p.Text, NoSpeech: p.NoSpeech}, true

	case "audio":
		var p audioPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn("malformed audio payload", "error", err)
			return nil, false
		}
		audio, err := base64.StdEncoding.DecodeString(p.Audio)
		if err != nil {
			c.log.Warn("undecodable audio payload", "error", err)
			return nil, false
		}
		return AudioEvent{Text: p.Text, Audio: audio}, true

	case "error":
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn("malformed error payload", "error", err)
			return nil, false
		}
		return ErrorEvent{Message: p.Message}, true

	default:
		c.log.Warn("unknown server message type", "type", env.Type)
		return nil, false
	}
}

// emit blocks until the consumer takes the event or the channel closes,
// preserving delivery order.
func (c *Channel) emit(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}
