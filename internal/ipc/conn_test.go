package ipc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/tree"
)

const treeReply = `{"id":1,"type":"root","layout":"splith","nodes":[{"id":4,"name":"1","type":"workspace","layout":"splith","rect":{"x":0,"y":0,"width":1920,"height":1080},"nodes":[{"id":10,"type":"con","layout":"none","nodes":[]},{"id":11,"type":"con","layout":"none","nodes":[]}]}]}`

func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMessage(&buf, MsgRunCommand, []byte("focus left")); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	raw := buf.Bytes()
	if !bytes.HasPrefix(raw, []byte("i3-ipc")) {
		t.Fatalf("missing magic: %q", raw)
	}
	if len(raw) != headerSize+len("focus left") {
		t.Fatalf("unexpected frame length %d", len(raw))
	}
	typ, payload, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if typ != MsgRunCommand || string(payload) != "focus left" {
		t.Fatalf("round trip = (%d, %q)", typ, payload)
	}
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("i3-ipX\x00\x00\x00\x00\x00\x00\x00\x00")
	if _, _, err := readMessage(buf); err == nil || !strings.Contains(err.Error(), "bad magic") {
		t.Fatalf("expected bad magic error, got %v", err)
	}
}

func TestMessageTypeIsEvent(t *testing.T) {
	if !EventWindow.IsEvent() {
		t.Fatalf("window event must carry the event bit")
	}
	if MsgGetTree.IsEvent() {
		t.Fatalf("GET_TREE is a request")
	}
}

func TestSocketPath(t *testing.T) {
	setEnv(t, "SWAYSOCK", "/run/sway.sock")
	setEnv(t, "I3SOCK", "/run/i3.sock")
	if got, _ := SocketPath("/explicit.sock"); got != "/explicit.sock" {
		t.Fatalf("explicit path ignored: %q", got)
	}
	if got, _ := SocketPath(""); got != "/run/sway.sock" {
		t.Fatalf("SWAYSOCK not preferred: %q", got)
	}
	setEnv(t, "SWAYSOCK", "")
	if got, _ := SocketPath(""); got != "/run/i3.sock" {
		t.Fatalf("I3SOCK fallback missing: %q", got)
	}
	setEnv(t, "I3SOCK", "")
	if _, err := SocketPath(""); err == nil {
		t.Fatalf("expected error without any socket")
	}
}

func TestConnTree(t *testing.T) {
	wm := newFakeWM(t, func(typ MessageType, payload []byte) []byte {
		if typ != MsgGetTree {
			t.Errorf("unexpected request type %d", typ)
		}
		return []byte(treeReply)
	})
	conn, err := Dial(context.Background(), wm.path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	root, err := conn.Tree(context.Background())
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	parent := tree.FindParent(root, 11)
	if parent == nil || parent.ID != 4 || parent.Rect.Width != 1920 {
		t.Fatalf("unexpected parent: %+v", parent)
	}
}

func TestConnRunCommand(t *testing.T) {
	wm := newFakeWM(t, func(typ MessageType, payload []byte) []byte {
		if typ != MsgRunCommand {
			return []byte(`{}`)
		}
		if strings.Contains(string(payload), "bogus") {
			return []byte(`[{"success":true},{"success":false,"parse_error":true,"error":"Expected one of these: ..."}]`)
		}
		return []byte(`[{"success":true},{"success":true}]`)
	})
	conn, err := Dial(context.Background(), wm.path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.RunCommand(context.Background(), layout.MoveRight(12)); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	err = conn.RunCommand(context.Background(), "focus left bogus")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if !strings.Contains(cmdErr.Error(), "parse error: Expected one of these") {
		t.Fatalf("unexpected error text: %v", cmdErr)
	}

	want := []string{"[con_id=12] move right", "focus left bogus"}
	if diff := cmp.Diff(want, wm.seen()); diff != "" {
		t.Fatalf("submitted payloads mismatch (-want +got):\n%s", diff)
	}
}

func TestConnVersion(t *testing.T) {
	wm := newFakeWM(t, func(MessageType, []byte) []byte {
		return []byte(`{"major":1,"minor":9,"patch":0,"human_readable":"1.9"}`)
	})
	conn, err := Dial(context.Background(), wm.path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	v, err := conn.Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v.Major != 1 || v.Minor != 9 || v.HumanReadable != "1.9" {
		t.Fatalf("unexpected version: %+v", v)
	}
}

func TestConnHonoursCancellation(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	wm := newFakeWM(t, func(MessageType, []byte) []byte {
		<-block
		return []byte(`[]`)
	})
	conn, err := Dial(context.Background(), wm.path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := conn.RunCommand(ctx, "nop"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
