package kfmt

import (
	"bytes"
	"strings"
	"testing"
	"wyvern/kernel/cpu"
)

func TestPrintlnAppendsNewline(t *testing.T) {
	defer func() { outputSink = nil }()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	Println("value: %d", 42)

	if got, want := buf.String(), "value: 42\n"; got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}

func TestPrintWritesVerbatim(t *testing.T) {
	defer func() { outputSink = nil }()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	Print("100% literal")

	if got, want := buf.String(), "100% literal"; got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}

func TestWarnAndErrorPrefixSeverity(t *testing.T) {
	defer func() { outputSink = nil }()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	Warn("disk nearly full: %d used", 90)
	Error("probe failed for %s", "acpi")

	out := buf.String()
	if !strings.HasPrefix(out, "[WARN] disk nearly full: 90 used") {
		t.Fatalf("expected Warn output to be prefixed; got %q", out)
	}
	if !strings.Contains(out, "[ERROR] probe failed for acpi") {
		t.Fatalf("expected Error output to be prefixed; got %q", out)
	}
}

func TestFatalPrintsThenHalts(t *testing.T) {
	defer func() {
		outputSink = nil
		cpuHaltFn = cpu.Halt
	}()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	haltCalled := false
	cpuHaltFn = func() { haltCalled = true }

	Fatal("unrecoverable: %s", "vmm init")

	if !haltCalled {
		t.Fatal("expected Fatal to invoke cpuHaltFn")
	}
	if got, want := buf.String(), "[FATAL] unrecoverable: vmm init"; got != want {
		t.Fatalf("expected %q; got %q", want, got)
	}
}
