package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestStreamTransportSendReceive(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestMCPStreamHelperProcess", "--")
	cmd.Env = append(os.Environ(), "GO_WANT_MCP_STREAM_HELPER=1")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe() error = %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe() error = %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = cmd.Wait() }()

	transport := NewStreamTransport(stdout, stdin, stdin)
	defer transport.Close(context.Background())

	req := Message{ID: NumericID(1), Method: "tools/list"}
	if err := transport.Send(context.Background(), req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("response id = %s, want 1", resp.ID)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Result, &payload); err != nil {
		t.Fatalf("Unmarshal(result) error = %v", err)
	}
	if payload["ok"] != true || payload["method"] != "tools/list" {
		t.Fatalf("result = %v, want ok echo of tools/list", payload)
	}
}

func TestMCPStreamHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_MCP_STREAM_HELPER") != "1" {
		return
	}

	decoder := json.NewDecoder(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for {
		var req Message
		if err := decoder.Decode(&req); err != nil {
			os.Exit(0)
		}
		resp := Message{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Result:  mustRawJSON(t, map[string]any{"ok": true, "method": req.Method}),
		}
		if err := encoder.Encode(resp); err != nil {
			os.Exit(2)
		}
	}
}

func TestStreamTransportFramesOneMessagePerLine(t *testing.T) {
	var out bytes.Buffer
	transport := NewStreamTransport(strings.NewReader(""), &out, nil)

	for i := int64(1); i <= 2; i++ {
		if err := transport.Send(context.Background(), Message{ID: NumericID(i), Method: "ping"}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"jsonrpc":"2.0"`) {
		t.Fatalf("line 0 = %q, want jsonrpc version stamped", lines[0])
	}
}

func TestStreamTransportReceiveEOF(t *testing.T) {
	transport := NewStreamTransport(strings.NewReader(""), io.Discard, nil)

	for i := 0; i < 2; i++ {
		_, err := transport.Receive(context.Background())
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Receive() #%d error = %v, want io.EOF", i, err)
		}
	}
}

func TestStreamTransportRejectsSendAfterClose(t *testing.T) {
	transport := NewStreamTransport(strings.NewReader(""), io.Discard, nil)
	if err := transport.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := transport.Send(context.Background(), Message{Method: "ping"}); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrTransportClosed", err)
	}
}

func TestStreamTransportCloseStopsReadLoop(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 100; i++ {
		input.WriteString(`{"jsonrpc":"2.0","method":"notifications/progress"}` + "\n")
	}
	transport := NewStreamTransport(strings.NewReader(input.String()), io.Discard, nil)

	// Nobody receives, so the read loop fills its buffer and blocks.
	time.Sleep(20 * time.Millisecond)
	if err := transport.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-transport.readLoopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("read loop still running after Close()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		_, err := transport.Receive(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("Receive() after Close error = %v, want ErrTransportClosed", err)
		}
		break
	}
}

func TestStreamTransportDecodeError(t *testing.T) {
	transport := NewStreamTransport(strings.NewReader("{not json}\n"), io.Discard, nil)
	_, err := transport.Receive(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Receive() error = %v, want decode error", err)
	}
}

func mustRawJSON(t *testing.T, value any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return data
}
