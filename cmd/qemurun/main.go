// qemurun boots a UEFI disk image under QEMU with the isa-debug-exit
// device wired in, and translates the kernel's shutdown-port exit code (see
// kernel/qemu) into a CI-friendly process exit status: 0 on the kernel's
// own success code, 1 on its failure code, 2 if QEMU exits any other way
// (crash, timeout, missing OVMF firmware).
//
// Usage: qemurun -manifest image.yml disk.img
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest mirrors cmd/mkbootimg's Manifest; qemurun only reads the
// machine-shape fields (memory, CPU count, firmware path), sharing the same
// file so a developer only maintains one image.yml per target.
type Manifest struct {
	OVMFPath string `yaml:"ovmf_path"`
	MemoryMB int    `yaml:"memory_mb"`
	CPUs     int    `yaml:"cpus"`
}

func loadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.MemoryMB <= 0 {
		m.MemoryMB = 256
	}
	if m.CPUs <= 0 {
		m.CPUs = 1
	}
	return m, nil
}

// isaDebugExitSuccess/isaDebugExitFailure are the process exit codes QEMU
// produces from (code<<1)|1 when the guest writes codeSuccess/codeFailure
// (kernel/qemu) to the isa-debug-exit port: (1<<1)|1=3, (2<<1)|1=5.
const (
	isaDebugExitSuccess = 3
	isaDebugExitFailure = 5
)

const (
	exitOK           = 0
	exitKernelFailed = 1
	exitRunnerError  = 2
)

func qemuArgs(m Manifest, diskImage string) []string {
	return []string{
		"-machine", "q35",
		"-cpu", "qemu64",
		"-smp", strconv.Itoa(m.CPUs),
		"-m", strconv.Itoa(m.MemoryMB) + "M",
		"-bios", m.OVMFPath,
		"-drive", "file=" + diskImage + ",format=raw,if=ide",
		"-serial", "stdio",
		"-display", "none",
		"-device", "isa-debug-exit,iobase=0xf4,iosize=1",
		"-no-reboot",
	}
}

// qemuBinary is mocked by tests, which re-exec the test binary itself in
// place of a real qemu-system-x86_64.
var qemuBinary = "qemu-system-x86_64"

// extraEnv is appended to the launched process's environment; tests use it
// to steer the self-exec test helper toward a specific fake exit code.
var extraEnv []string

func run(ctx context.Context, m Manifest, diskImage string, stdout, stderr *os.File) int {
	cmd := exec.CommandContext(ctx, qemuBinary, qemuArgs(m, diskImage)...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		slog.Warn("qemu exited 0 without writing to the debug-exit port")
		return exitRunnerError
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		slog.Error("failed to launch qemu-system-x86_64", "error", err)
		return exitRunnerError
	}

	switch exitErr.ExitCode() {
	case isaDebugExitSuccess:
		slog.Info("kernel reported success")
		return exitOK
	case isaDebugExitFailure:
		slog.Error("kernel reported failure via the debug-exit port")
		return exitKernelFailed
	default:
		slog.Error("qemu exited unexpectedly", "code", exitErr.ExitCode())
		return exitRunnerError
	}
}

func main() {
	manifestPath := flag.String("manifest", "image.yml", "path to the image-layout manifest")
	timeout := flag.Duration("timeout", 60*time.Second, "maximum time to let the guest run")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: qemurun -manifest image.yml disk.img")
		os.Exit(exitRunnerError)
	}

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		slog.Error("load manifest", "error", err)
		os.Exit(exitRunnerError)
	}
	if manifest.OVMFPath == "" {
		slog.Error("manifest is missing ovmf_path")
		os.Exit(exitRunnerError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code := run(ctx, manifest, args[0], os.Stdout, os.Stderr)
	if ctx.Err() == context.DeadlineExceeded {
		slog.Error("guest timed out", "timeout", *timeout)
		code = exitRunnerError
	}
	os.Exit(code)
}
