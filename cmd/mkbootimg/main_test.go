package main

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func TestBuildImageLayout(t *testing.T) {
	loader := bytes.Repeat([]byte{0xAB}, 3000)
	m := Manifest{PartitionMB: 4}

	img, err := buildImage(m, loader)
	if err != nil {
		t.Fatalf("buildImage: %v", err)
	}

	if img[510] != 0x55 || img[511] != 0xAA {
		t.Fatalf("protective MBR missing boot signature, got %02x %02x", img[510], img[511])
	}
	if img[446+4] != 0xEE {
		t.Fatalf("protective MBR partition type = 0x%02x, want 0xEE", img[446+4])
	}

	header := img[gptHeaderLBA*bytesPerSector:]
	if string(header[0:8]) != "EFI PART" {
		t.Fatalf("GPT header signature = %q, want %q", header[0:8], "EFI PART")
	}

	firstLBA := uint64(gptFirstUsableLBA)
	partition := img[firstLBA*bytesPerSector:]
	if partition[0] != 0xEB || partition[1] != 0x58 {
		t.Fatalf("FAT32 BPB jump instruction missing at partition start")
	}
	if partition[510] != 0x55 || partition[511] != 0xAA {
		t.Fatalf("FAT32 boot sector missing boot signature")
	}
}

func TestBuildImageRejectsUndersizedPartition(t *testing.T) {
	loader := bytes.Repeat([]byte{0x00}, 1<<20)
	_, err := buildFAT32Partition(1, loader, time.Now())
	if err == nil {
		t.Fatal("expected an error for a one-sector partition")
	}
}

func TestFAT32PartitionEmbedsLoaderBytes(t *testing.T) {
	loader := []byte("hello from the boot loader")
	partition, err := buildFAT32Partition(8192, loader, time.Now())
	if err != nil {
		t.Fatalf("buildFAT32Partition: %v", err)
	}

	if !bytes.Contains(partition, loader) {
		t.Fatal("expected the loader bytes to appear somewhere in the partition image")
	}
}

func TestLoadManifestDefaultsPartitionSize(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/image.yml"
	if err := os.WriteFile(path, []byte("ovmf_path: /usr/share/OVMF.fd\n"), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if m.PartitionMB != 64 {
		t.Fatalf("PartitionMB = %d, want default 64", m.PartitionMB)
	}
	if m.OVMFPath != "/usr/share/OVMF.fd" {
		t.Fatalf("OVMFPath = %q, want %q", m.OVMFPath, "/usr/share/OVMF.fd")
	}
}

func TestGUIDRoundTripsThroughMixedEndianFields(t *testing.T) {
	g := mustParseGUID(efiSystemPartitionGUID)
	// The first three fields are little-endian encoded; Data1's low byte
	// (0x28 from "c12a7328") must end up first.
	if g[0] != 0x28 || g[3] != 0xc1 {
		t.Fatalf("GUID field ordering wrong: % x", g[:])
	}
}
