package ipc

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	original, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if !had {
			os.Unsetenv(key)
			return
		}
		os.Setenv(key, original)
	})
}

// fakeWM speaks the i3-ipc framing on a temporary unix socket. Requests are
// answered by reply; SUBSCRIBE is acknowledged and the connection is kept for
// broadcast.
type fakeWM struct {
	t        *testing.T
	path     string
	listener net.Listener
	reply    func(typ MessageType, payload []byte) []byte

	mu          sync.Mutex
	requests    []string
	subscribers []net.Conn
	subscribed  chan struct{}
}

func newFakeWM(t *testing.T, reply func(typ MessageType, payload []byte) []byte) *fakeWM {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wm.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	wm := &fakeWM{
		t:          t,
		path:       path,
		listener:   listener,
		reply:      reply,
		subscribed: make(chan struct{}, 4),
	}
	t.Cleanup(wm.close)
	go wm.serve()
	return wm
}

func (w *fakeWM) serve() {
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			return
		}
		go w.handle(conn)
	}
}

func (w *fakeWM) handle(conn net.Conn) {
	for {
		typ, payload, err := readMessage(conn)
		if err != nil {
			conn.Close()
			return
		}
		w.mu.Lock()
		w.requests = append(w.requests, string(payload))
		w.mu.Unlock()
		if typ == MsgSubscribe {
			body, _ := json.Marshal(map[string]bool{"success": true})
			w.mu.Lock()
			_ = writeMessage(conn, MsgSubscribe, body)
			w.subscribers = append(w.subscribers, conn)
			w.mu.Unlock()
			w.subscribed <- struct{}{}
			continue
		}
		body := w.reply(typ, payload)
		w.mu.Lock()
		_ = writeMessage(conn, typ, body)
		w.mu.Unlock()
	}
}

func (w *fakeWM) broadcast(typ MessageType, payload []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, conn := range w.subscribers {
		_ = writeMessage(conn, typ, payload)
	}
}

func (w *fakeWM) dropSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, conn := range w.subscribers {
		conn.Close()
	}
	w.subscribers = nil
}

func (w *fakeWM) seen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requests...)
}

func (w *fakeWM) close() {
	w.listener.Close()
	w.dropSubscribers()
}
