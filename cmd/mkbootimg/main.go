// mkbootimg packages a compiled kernel PE image into a UEFI-bootable disk
// image: a GPT-partitioned raw disk containing a single FAT32 EFI System
// Partition with the kernel installed at \EFI\BOOT\BOOTX64.EFI, the path
// every UEFI firmware tries by default when no boot entry is configured.
//
// Usage: mkbootimg -manifest image.yml kernel.efi output.img
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"
)

// Manifest is the shared image-layout/machine-shape file read by both
// mkbootimg (PartitionMB) and qemurun (MemoryMB, CPUs, OVMFPath).
type Manifest struct {
	PartitionMB int    `yaml:"partition_mb"`
	OVMFPath    string `yaml:"ovmf_path"`
	MemoryMB    int    `yaml:"memory_mb"`
	CPUs        int    `yaml:"cpus"`
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
	if m.PartitionMB <= 0 {
		m.PartitionMB = 64
	}
	return m, nil
}

func main() {
	manifestPath := flag.String("manifest", "image.yml", "path to the image-layout manifest")
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: mkbootimg -manifest image.yml kernel.efi output.img")
		os.Exit(1)
	}
	kernelPath, outPath := args[0], args[1]

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		slog.Warn("using default image layout", "manifest", *manifestPath, "error", err)
		manifest = Manifest{PartitionMB: 64}
	}

	loader, err := os.ReadFile(kernelPath)
	if err != nil {
		slog.Error("read kernel image", "path", kernelPath, "error", err)
		os.Exit(1)
	}

	img, err := buildImage(manifest, loader)
	if err != nil {
		slog.Error("build disk image", "error", err)
		os.Exit(1)
	}

	out, err := os.Create(outPath)
	if err != nil {
		slog.Error("create output image", "path", outPath, "error", err)
		os.Exit(1)
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(int64(len(img)), "writing "+outPath)
	if _, err := io.Copy(io.MultiWriter(out, bar), newByteReader(img)); err != nil {
		slog.Error("write output image", "error", err)
		os.Exit(1)
	}

	slog.Info("wrote boot image", "path", outPath, "bytes", len(img), "partition_mb", manifest.PartitionMB)
}

// buildImage assembles the whole-disk image: protective MBR + GPT header
// pair wrapping one FAT32 ESP carrying loader at \EFI\BOOT\BOOTX64.EFI.
func buildImage(m Manifest, loader []byte) ([]byte, error) {
	partitionSectors := uint32(m.PartitionMB) * 1024 * 1024 / bytesPerSector

	partition, err := buildFAT32Partition(partitionSectors, loader, time.Now())
	if err != nil {
		return nil, err
	}

	totalSectors := gptFirstUsableLBA + partitionSectors + gptPartitionLBAs + 1
	img := make([]byte, uint64(totalSectors)*bytesPerSector)

	writeProtectiveMBR(img, totalSectors)

	firstLBA := uint64(gptFirstUsableLBA)
	lastLBA := firstLBA + uint64(partitionSectors) - 1
	writeGPT(img, totalSectors, firstLBA, lastLBA, "EFI System Partition")

	copy(img[firstLBA*bytesPerSector:], partition)

	return img, nil
}

func newByteReader(b []byte) io.Reader {
	return &sliceReader{data: b}
}

// sliceReader is a trivial io.Reader over an in-memory byte slice, used so
// the write-out can share one io.Copy call with the progress bar's
// io.MultiWriter instead of a separate bar.Add64 bookkeeping path.
type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
