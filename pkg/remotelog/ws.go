package remotelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatview/pkg/logger"
	"chatview/pkg/models"
)

const wsWriteTimeout = 10 * time.Second

// envelope is the op frame spoken with a hosted log over websocket.
type envelope struct {
	Op     string              `json:"op"` // subscribe | unsubscribe | append | event | error
	Sub    string              `json:"sub,omitempty"`
	Thread models.ThreadRef    `json:"thread,omitempty"`
	Key    string              `json:"key,omitempty"`
	Event  *models.RemoteEvent `json:"event,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// WS is a remote log client over a single websocket connection. One read
// loop dispatches event frames to the per-subscription handlers.
type WS struct {
	conn *websocket.Conn

	mu     sync.Mutex
	subs   map[string]EventFunc // sub handle -> fn
	closed bool
}

// DialWS connects to a hosted log at url and starts the read loop.
func DialWS(ctx context.Context, url string) (*WS, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	w := &WS{conn: conn, subs: make(map[string]EventFunc)}
	go w.readLoop()
	logger.Info("remote_log_connected", "url", url)
	return w, nil
}

// Close tears down the connection; all subscriptions become inert.
func (w *WS) Close() error {
	w.mu.Lock()
	w.closed = true
	w.subs = make(map[string]EventFunc)
	w.mu.Unlock()
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

func (w *WS) write(env envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.conn, env)
}

// Append sends an append op. The stored id equals key; confirmation comes
// back as an event frame on the thread's subscription.
func (w *WS) Append(_ context.Context, thread models.ThreadRef, key string, ev models.RemoteEvent) error {
	if key == "" {
		return fmt.Errorf("empty storage key")
	}
	ev.ID = key
	ev.CorrelationKey = key
	ev.Thread = thread
	return w.write(envelope{Op: "append", Thread: thread, Key: key, Event: &ev})
}

type wsSub struct {
	w      *WS
	handle string
	once   sync.Once
}

func (s *wsSub) Unsubscribe() {
	s.once.Do(func() {
		s.w.mu.Lock()
		delete(s.w.subs, s.handle)
		closed := s.w.closed
		s.w.mu.Unlock()
		if closed {
			return
		}
		if err := s.w.write(envelope{Op: "unsubscribe", Sub: s.handle}); err != nil {
			logger.Warn("unsubscribe_send_failed", "handle", s.handle, "error", err)
		}
	})
}

// Subscribe registers fn and asks the server to stream the thread: backlog
// first, then live appends, all as event frames tagged with the handle.
func (w *WS) Subscribe(_ context.Context, thread models.ThreadRef, fn EventFunc) (Subscription, error) {
	handle := uuid.NewString()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}
	w.subs[handle] = fn
	w.mu.Unlock()

	if err := w.write(envelope{Op: "subscribe", Sub: handle, Thread: thread}); err != nil {
		w.mu.Lock()
		delete(w.subs, handle)
		w.mu.Unlock()
		return nil, err
	}
	return &wsSub{w: w, handle: handle}, nil
}

func (w *WS) readLoop() {
	for {
		var env envelope
		if err := wsjson.Read(context.Background(), w.conn, &env); err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				logger.Error("remote_log_read_failed", "error", err)
			}
			return
		}
		switch env.Op {
		case "event":
			if env.Event == nil {
				continue
			}
			w.mu.Lock()
			fn := w.subs[env.Sub]
			w.mu.Unlock()
			if fn != nil {
				fn(*env.Event)
			}
		case "error":
			logger.Warn("remote_log_error_frame", "sub", env.Sub, "error", env.Error)
		default:
			logger.Debug("remote_log_frame_ignored", "op", env.Op)
		}
	}
}
