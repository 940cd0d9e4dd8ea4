package main

import (
	"io"
	"os"
	"testing"
	"time"
)

// pipeSession is an in-memory session backed by io.Pipe, standing in for a
// real serial port or child-process stdio in tests.
type pipeSession struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeSession() (*pipeSession, *pipeSession) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()
	return &pipeSession{r: aR, w: aW}, &pipeSession{r: bR, w: bW}
}

func (p *pipeSession) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeSession) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeSession) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func TestMakeRawIfTerminalSkipsNonTerminals(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()

	restore, err := makeRawIfTerminal(f)
	if err != nil {
		t.Fatalf("makeRawIfTerminal: %v", err)
	}
	// Must be safe to call even though f was never put into raw mode.
	restore()
}

func TestRunMonitorForwardsGuestOutputToHost(t *testing.T) {
	guestSide, monitorSide := newPipeSession()
	defer guestSide.Close()

	hostInR, hostInW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer hostInW.Close()
	hostOutR, hostOutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- runMonitor(monitorSide, hostInR, hostOutW, 80, 24)
	}()

	go func() {
		_, _ = guestSide.Write([]byte("hello from kernel\n"))
	}()

	buf := make([]byte, 64)
	hostOutR.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := hostOutR.Read(buf)
	if err != nil {
		t.Fatalf("read host output: %v", err)
	}
	if got := string(buf[:n]); got != "hello from kernel\n" {
		t.Fatalf("host received %q, want %q", got, "hello from kernel\n")
	}

	guestSide.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runMonitor did not exit after guest session closed")
	}
}
