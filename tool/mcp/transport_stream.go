package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrTransportClosed is returned by Send and Receive after Close.
var ErrTransportClosed = errors.New("mcp: transport is closed")

// Transport carries JSON-RPC messages between a Server and its peer.
type Transport interface {
	Send(ctx context.Context, message Message) error
	Receive(ctx context.Context) (Message, error)
	Close(ctx context.Context) error
}

// StreamTransport frames JSON-RPC messages one per line over a reader and a
// writer, such as the process's stdin and stdout.
type StreamTransport struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	recvCh chan Message
	errCh  chan error
	closed bool
	// done is closed by Close; readLoopDone when readLoop returns.
	done         chan struct{}
	readLoopDone chan struct{}
}

// NewStreamTransport starts reading messages from r. closer, when non-nil,
// is closed by Close.
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer) *StreamTransport {
	t := &StreamTransport{
		w:      w,
		closer: closer,
		recvCh:       make(chan Message, 64),
		errCh:        make(chan error, 1),
		done:         make(chan struct{}),
		readLoopDone: make(chan struct{}),
	}
	go t.readLoop(r)
	return t
}

func (t *StreamTransport) readLoop(r io.Reader) {
	defer close(t.readLoopDone)
	decoder := json.NewDecoder(bufio.NewReader(r))
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			if errors.Is(err, io.EOF) {
				t.sendErr(io.EOF)
				return
			}
			t.sendErr(fmt.Errorf("mcp: decode message: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		case <-t.done:
			return
		}
	}
}

// Send writes one message followed by a newline.
func (t *StreamTransport) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if message.JSONRPC == "" {
		message.JSONRPC = jsonRPCVersion
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("mcp: write message: %w", err)
	}
	return nil
}

// Receive returns the next decoded message. It returns io.EOF once the
// reader is exhausted and ErrTransportClosed after Close.
func (t *StreamTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.done:
		return Message{}, ErrTransportClosed
	case message := <-t.recvCh:
		return message, nil
	case err := <-t.errCh:
		// Keep the terminal error observable for later callers.
		t.sendErr(err)
		select {
		case message := <-t.recvCh:
			return message, nil
		default:
		}
		return Message{}, err
	}
}

// Close marks the transport closed, releases the read loop and closes the
// underlying closer. The read loop stops at its next message boundary.
func (t *StreamTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

func (t *StreamTransport) sendErr(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

var _ Transport = (*StreamTransport)(nil)
