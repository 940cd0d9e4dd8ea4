// serialmon attaches an interactive terminal session to the kernel's serial
// console: either a real COM port (go.bug.st/serial) or a child qemurun
// process's stdio pipe. Incoming bytes pass through a vt.SafeEmulator, which
// swallows the device-status and cursor-position query replies a human's
// real terminal would otherwise have to field before the kernel ever gets
// them (device-attribute probes are not intercepted); the host terminal
// itself does the actual rendering, since it already understands ANSI.
//
// Usage: serialmon -port /dev/ttyUSB0 -baud 115200
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// session is a byte-oriented connection to the kernel's console: a real
// serial port or a pipe to a child process's stdio.
type session interface {
	io.ReadWriteCloser
}

func openSerialSession(portName string, baud int) (session, error) {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return port, nil
}

func main() {
	portName := flag.String("port", "", "serial device to open (e.g. /dev/ttyUSB0); omit to read/write stdio")
	baud := flag.Int("baud", 115200, "baud rate when -port is set")
	cols := flag.Int("cols", 80, "terminal grid width used to track cursor-query replies")
	rows := flag.Int("rows", 24, "terminal grid height used to track cursor-query replies")
	flag.Parse()

	var sess session
	if *portName != "" {
		s, err := openSerialSession(*portName, *baud)
		if err != nil {
			slog.Error("open serial session", "error", err)
			os.Exit(1)
		}
		sess = s
	} else {
		sess = stdioSession{}
	}
	defer sess.Close()

	if err := runMonitor(sess, os.Stdin, os.Stdout, *cols, *rows); err != nil {
		slog.Error("serial monitor exited", "error", err)
		os.Exit(1)
	}
}

// stdioSession wraps the process's own stdio as a session, for piping
// serialmon behind `qemurun ... | serialmon` or similar.
type stdioSession struct{}

func (stdioSession) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioSession) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioSession) Close() error                { return nil }

// runMonitor copies bytes between sess and the human sitting at in/out,
// putting the host terminal into raw mode for the duration if it is a real
// tty. Guest output passes through a SafeEmulator so query escape sequences
// the guest emits never bounce an unsolicited reply back down the wire;
// everything else is forwarded to out unchanged, since out is already a
// terminal capable of interpreting ANSI sequences on its own.
func runMonitor(sess session, in *os.File, out *os.File, cols, rows int) error {
	restore, err := makeRawIfTerminal(in)
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	defer restore()

	emu := vt.NewSafeEmulator(cols, rows)
	defer emu.Close()
	silenceQueryReplies(emu)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 3)

	// guest -> emulator -> host terminal
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				if _, werr := emu.Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
				if _, werr := out.Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	// emulator's synthesized replies -> guest
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := emu.Read(buf)
			if n > 0 {
				if _, werr := sess.Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	// host keystrokes -> guest
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if _, werr := sess.Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case err := <-errCh:
		if err == io.EOF {
			return nil
		}
		return err
	case <-sigCh:
		return nil
	}
}

func makeRawIfTerminal(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, old) }, nil
}

// silenceQueryReplies swallows the device-status (CSI 5 n) and
// cursor-position (CSI 6 n) query replies an emulator would otherwise
// synthesize, so a minimal guest console driver doesn't see its own escape
// sequences echoed back as input. Device-attribute queries (CSI c) are not
// intercepted.
func silenceQueryReplies(emu *vt.SafeEmulator) {
	emu.RegisterCsiHandler('n', func(params ansi.Params) bool {
		n, _, ok := params.Param(0, 1)
		return ok && (n == 5 || n == 6)
	})
}
