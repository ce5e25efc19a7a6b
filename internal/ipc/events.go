package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/swaytab/swaytab/internal/tree"
	"github.com/swaytab/swaytab/internal/util"
)

// WindowChange is the kind of a window event.
type WindowChange string

const (
	ChangeNew            WindowChange = "new"
	ChangeClose          WindowChange = "close"
	ChangeFocus          WindowChange = "focus"
	ChangeTitle          WindowChange = "title"
	ChangeFullscreenMode WindowChange = "fullscreen_mode"
	ChangeMove           WindowChange = "move"
	ChangeFloating       WindowChange = "floating"
	ChangeUrgent         WindowChange = "urgent"
	ChangeMark           WindowChange = "mark"
)

// WindowEvent is the payload of a window event.
type WindowEvent struct {
	Change    WindowChange `json:"change"`
	Container tree.Node    `json:"container"`
}

// Subscription streams window events from a dedicated connection.
type Subscription struct {
	conn   *Conn
	events chan WindowEvent

	mu  sync.Mutex
	err error
}

// Subscribe opens a new connection at path, subscribes to window events and
// streams them until ctx is cancelled or the connection fails.
func Subscribe(ctx context.Context, path string, logger *util.Logger) (*Subscription, error) {
	conn, err := Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal([]string{"window"})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode subscribe: %w", err)
	}
	reply, err := conn.roundTrip(ctx, MsgSubscribe, body)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	var ack struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(reply, &ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode subscribe reply: %w", err)
	}
	if !ack.Success {
		conn.Close()
		return nil, errors.New("subscribe: window manager refused subscription")
	}

	sub := &Subscription{conn: conn, events: make(chan WindowEvent)}
	go sub.read(ctx, logger)
	return sub, nil
}

// Events returns the event channel. It is closed when the stream ends; Err
// then reports why.
func (s *Subscription) Events() <-chan WindowEvent {
	return s.events
}

// Err returns the error that ended the stream, or nil after a clean shutdown.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream.
func (s *Subscription) Close() error {
	return s.conn.Close()
}

func (s *Subscription) read(ctx context.Context, logger *util.Logger) {
	defer close(s.events)
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	for {
		typ, payload, err := readMessage(s.conn.reader)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.setErr(err)
			return
		}
		if typ != EventWindow {
			if logger != nil {
				logger.Tracef("ignoring ipc message type %#x", uint32(typ))
			}
			continue
		}
		var ev WindowEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.setErr(fmt.Errorf("decode window event: %w", err))
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
