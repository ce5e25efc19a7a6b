package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/tree"
)

// MessageType identifies an i3-ipc request or event.
type MessageType uint32

const (
	MsgRunCommand MessageType = 0
	MsgSubscribe  MessageType = 2
	MsgGetTree    MessageType = 4
	MsgGetVersion MessageType = 7

	eventFlag MessageType = 1 << 31

	EventWindow MessageType = eventFlag | 3
)

const (
	magic      = "i3-ipc"
	headerSize = len(magic) + 8
	// maxPayload bounds a single reply; large trees stay well under this.
	maxPayload = 64 << 20
)

// IsEvent reports whether t is an event rather than a reply.
func (t MessageType) IsEvent() bool {
	return t&eventFlag != 0
}

// Conn is one connection to the window manager IPC socket. Requests on a Conn
// are serialized; use separate connections for traffic that must not wait on
// each other.
type Conn struct {
	path string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// SocketPath resolves the IPC socket from an explicit value, $SWAYSOCK or
// $I3SOCK, in that order.
func SocketPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, env := range []string{"SWAYSOCK", "I3SOCK"} {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}
	return "", errors.New("no IPC socket: set SWAYSOCK or I3SOCK, or pass --socket")
}

// Dial connects to the IPC socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect ipc socket: %w", err)
	}
	return &Conn{path: path, conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Path returns the socket path the connection was opened on.
func (c *Conn) Path() string {
	return c.path
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Tree returns a fresh snapshot of the layout tree.
func (c *Conn) Tree(ctx context.Context) (*tree.Node, error) {
	payload, err := c.roundTrip(ctx, MsgGetTree, nil)
	if err != nil {
		return nil, err
	}
	var root tree.Node
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return &root, nil
}

// CommandResult is the reply for one action of a RUN_COMMAND payload.
type CommandResult struct {
	Success    bool   `json:"success"`
	ParseError bool   `json:"parse_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CommandError reports the actions the window manager refused.
type CommandError struct {
	Command layout.Command
	Results []CommandResult
}

func (e *CommandError) Error() string {
	msgs := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if r.Success {
			continue
		}
		msg := r.Error
		if msg == "" {
			msg = "unknown failure"
		}
		if r.ParseError {
			msg = "parse error: " + msg
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("command %q failed: %s", e.Command, strings.Join(msgs, "; "))
}

// RunCommand submits cmd and waits for the reply. Any refused action turns
// into a *CommandError.
func (c *Conn) RunCommand(ctx context.Context, cmd layout.Command) error {
	payload, err := c.roundTrip(ctx, MsgRunCommand, []byte(cmd))
	if err != nil {
		return err
	}
	var results []CommandResult
	if err := json.Unmarshal(payload, &results); err != nil {
		return fmt.Errorf("decode command reply: %w", err)
	}
	for _, r := range results {
		if !r.Success {
			return &CommandError{Command: cmd, Results: results}
		}
	}
	return nil
}

// Version describes the running window manager.
type Version struct {
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	Patch                int    `json:"patch"`
	HumanReadable        string `json:"human_readable"`
	LoadedConfigFileName string `json:"loaded_config_file_name"`
}

// Version queries GET_VERSION.
func (c *Conn) Version(ctx context.Context) (Version, error) {
	payload, err := c.roundTrip(ctx, MsgGetVersion, nil)
	if err != nil {
		return Version{}, err
	}
	var v Version
	if err := json.Unmarshal(payload, &v); err != nil {
		return Version{}, fmt.Errorf("decode version: %w", err)
	}
	return v, nil
}

func (c *Conn) roundTrip(ctx context.Context, typ MessageType, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := writeMessage(c.conn, typ, payload); err != nil {
		return nil, c.contextErr(ctx, err)
	}
	for {
		got, reply, err := readMessage(c.reader)
		if err != nil {
			return nil, c.contextErr(ctx, err)
		}
		if got.IsEvent() {
			// Events only arrive on subscribed connections; skip stray ones.
			continue
		}
		if got != typ {
			return nil, fmt.Errorf("unexpected reply type %d for request %d", got, typ)
		}
		return reply, nil
	}
}

func (c *Conn) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func writeMessage(w io.Writer, typ MessageType, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[len(magic):], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[len(magic)+4:], uint32(typ))
	copy(buf[headerSize:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write ipc message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader) (MessageType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("read ipc header: %w", err)
	}
	if string(header[:len(magic)]) != magic {
		return 0, nil, fmt.Errorf("read ipc header: bad magic %q", header[:len(magic)])
	}
	size := binary.LittleEndian.Uint32(header[len(magic):])
	typ := MessageType(binary.LittleEndian.Uint32(header[len(magic)+4:]))
	if size > maxPayload {
		return 0, nil, fmt.Errorf("read ipc payload: %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read ipc payload: %w", err)
	}
	return typ, payload, nil
}
