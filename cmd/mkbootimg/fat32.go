package main

import (
	"encoding/binary"
	"fmt"
	"time"
)

// This FAT32 writer covers exactly the layout mkbootimg needs: a single
// file, EFI/BOOT/BOOTX64.EFI, three directories deep (root, EFI, BOOT), one
// cluster per directory. It is not a general-purpose filesystem writer --
// there is no support for multiple files, long file names, or directories
// spanning more than one cluster, since the boot partition never holds
// anything else.

const (
	bytesPerSector    = 512
	sectorsPerCluster = 1
	reservedSectors   = 32
	numFATs           = 2
	fatEntrySize      = 4 // FAT32: 4 bytes/entry, top 4 bits reserved

	clusterFree    = 0x00000000
	clusterEOC     = 0x0FFFFFF8
	clusterRootDir = 2
)

// fatLayout describes where each region of a FAT32 volume begins, in
// sectors from the start of the partition.
type fatLayout struct {
	totalSectors    uint32
	fatSectors      uint32
	dataStartSector uint32
	clusterCount    uint32
}

// planFAT32 sizes the FAT region so it can address every cluster in the
// requested partition, then rounds the partition up to account for that.
func planFAT32(partitionSectors uint32) fatLayout {
	// First approximation: assume the data region is everything after the
	// reserved sectors and two minimal FAT copies, then grow the FAT
	// estimate until it can actually cover that many clusters.
	fatSectors := uint32(1)
	for {
		dataStart := reservedSectors + numFATs*fatSectors
		if partitionSectors <= dataStart {
			break
		}
		dataSectors := partitionSectors - dataStart
		clusters := dataSectors / sectorsPerCluster
		entriesPerSector := bytesPerSector / fatEntrySize
		need := (clusters + entriesPerSector - 1) / entriesPerSector
		if need <= fatSectors {
			return fatLayout{
				totalSectors:    partitionSectors,
				fatSectors:      fatSectors,
				dataStartSector: dataStart,
				clusterCount:    clusters,
			}
		}
		fatSectors = need
	}
	return fatLayout{totalSectors: partitionSectors, fatSectors: fatSectors, dataStartSector: reservedSectors + numFATs*fatSectors}
}

// dirEntry82 is one 32-byte FAT directory entry in the legacy 8.3 format.
// Long file names are not written; every name used here already fits.
type dirEntry82 struct {
	name       [11]byte
	attr       uint8
	reserved   uint8
	crtTimeTenth uint8
	crtTime    uint16
	crtDate    uint16
	lastAccess uint16
	clusterHi  uint16
	wrtTime    uint16
	wrtDate    uint16
	clusterLo  uint16
	size       uint32
}

const (
	attrReadOnly = 0x01
	attrDirectory = 0x10
	attrArchive   = 0x20
)

func fatName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], []byte(name))
	return out
}

func encodeDirEntry(e dirEntry82) []byte {
	buf := make([]byte, 32)
	copy(buf[0:11], e.name[:])
	buf[11] = e.attr
	buf[12] = e.reserved
	buf[13] = e.crtTimeTenth
	binary.LittleEndian.PutUint16(buf[14:16], e.crtTime)
	binary.LittleEndian.PutUint16(buf[16:18], e.crtDate)
	binary.LittleEndian.PutUint16(buf[18:20], e.lastAccess)
	binary.LittleEndian.PutUint16(buf[20:22], e.clusterHi)
	binary.LittleEndian.PutUint16(buf[22:24], e.wrtTime)
	binary.LittleEndian.PutUint16(buf[24:26], e.wrtDate)
	binary.LittleEndian.PutUint16(buf[26:28], e.clusterLo)
	binary.LittleEndian.PutUint32(buf[28:32], e.size)
	return buf
}

// fatTimestamp packs t into FAT's 16-bit date/16-bit time pair.
func fatTimestamp(t time.Time) (date, tm uint16) {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	date = uint16(year<<9 | int(t.Month())<<5 | t.Day())
	tm = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	return date, tm
}

// buildFAT32Partition lays out a FAT32 volume of exactly partitionSectors
// sectors containing one file at EFI/BOOT/BOOTX64.EFI with contents
// espLoader. Returns the raw partition bytes.
func buildFAT32Partition(partitionSectors uint32, espLoader []byte, now time.Time) ([]byte, error) {
	layout := planFAT32(partitionSectors)
	if layout.clusterCount < 4 {
		return nil, fmt.Errorf("mkbootimg: partition too small for FAT32 (%d usable clusters)", layout.clusterCount)
	}

	fileClusters := (uint32(len(espLoader)) + bytesPerSector*sectorsPerCluster - 1) / (bytesPerSector * sectorsPerCluster)
	if fileClusters == 0 {
		fileClusters = 1
	}
	// Cluster numbering: 2 = root, 3 = EFI, 4 = BOOT, 5.. = BOOTX64.EFI data.
	const (
		clusterEFI  = 3
		clusterBOOT = 4
		clusterFile = 5
	)
	if 4+fileClusters > layout.clusterCount {
		return nil, fmt.Errorf("mkbootimg: partition too small to hold %d bytes of loader", len(espLoader))
	}

	img := make([]byte, layout.totalSectors*bytesPerSector)

	writeBPB(img, layout)

	fat := make([]byte, layout.fatSectors*bytesPerSector)
	setFATEntry(fat, clusterRootDir, clusterEOC)
	setFATEntry(fat, clusterEFI, clusterEOC)
	setFATEntry(fat, clusterBOOT, clusterEOC)
	for i := uint32(0); i < fileClusters; i++ {
		cluster := clusterFile + i
		if i == fileClusters-1 {
			setFATEntry(fat, cluster, clusterEOC)
		} else {
			setFATEntry(fat, cluster, cluster+1)
		}
	}
	for f := 0; f < numFATs; f++ {
		off := (reservedSectors + uint32(f)*layout.fatSectors) * bytesPerSector
		copy(img[off:], fat)
	}

	date, tm := fatTimestamp(now)

	root := make([]byte, bytesPerSector*sectorsPerCluster)
	copy(root, encodeDirEntry(dirEntry82{
		name: fatName("EFI"), attr: attrDirectory,
		clusterHi: uint16(clusterEFI >> 16), clusterLo: uint16(clusterEFI),
		crtDate: date, crtTime: tm, wrtDate: date, wrtTime: tm,
	}))
	writeCluster(img, layout, clusterRootDir, root)

	efi := make([]byte, bytesPerSector*sectorsPerCluster)
	copy(efi, encodeDirEntry(dirEntry82{
		name: fatName("BOOT"), attr: attrDirectory,
		clusterHi: uint16(clusterBOOT >> 16), clusterLo: uint16(clusterBOOT),
		crtDate: date, crtTime: tm, wrtDate: date, wrtTime: tm,
	}))
	writeCluster(img, layout, clusterEFI, efi)

	boot := make([]byte, bytesPerSector*sectorsPerCluster)
	copy(boot, encodeDirEntry(dirEntry82{
		name: fatName("BOOTX64 EFI"), attr: attrArchive | attrReadOnly,
		clusterHi: uint16(clusterFile >> 16), clusterLo: uint16(clusterFile),
		size: uint32(len(espLoader)), crtDate: date, crtTime: tm, wrtDate: date, wrtTime: tm,
	}))
	writeCluster(img, layout, clusterBOOT, boot)

	remaining := espLoader
	for i := uint32(0); i < fileClusters; i++ {
		n := bytesPerSector * sectorsPerCluster
		chunk := make([]byte, n)
		copy(chunk, remaining)
		if len(remaining) > n {
			remaining = remaining[n:]
		} else {
			remaining = nil
		}
		writeCluster(img, layout, clusterFile+i, chunk)
	}

	return img, nil
}

func clusterOffset(layout fatLayout, cluster uint32) uint32 {
	return (layout.dataStartSector + (cluster-clusterRootDir)*sectorsPerCluster) * bytesPerSector
}

func writeCluster(img []byte, layout fatLayout, cluster uint32, data []byte) {
	off := clusterOffset(layout, cluster)
	copy(img[off:off+uint32(len(data))], data)
}

func setFATEntry(fat []byte, cluster, value uint32) {
	off := cluster * fatEntrySize
	binary.LittleEndian.PutUint32(fat[off:off+4], value&0x0FFFFFFF)
}

// writeBPB fills in the BIOS Parameter Block, FSInfo sector and backup boot
// sector at the start of the partition per the Microsoft FAT32 spec.
func writeBPB(img []byte, layout fatLayout) {
	b := img[0:bytesPerSector]

	b[0], b[1], b[2] = 0xEB, 0x58, 0x90 // JMP short + NOP
	copy(b[3:11], []byte("MSWIN4.1"))
	binary.LittleEndian.PutUint16(b[11:13], bytesPerSector)
	b[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(b[14:16], reservedSectors)
	b[16] = numFATs
	binary.LittleEndian.PutUint16(b[17:19], 0) // RootEntCnt: 0 for FAT32
	binary.LittleEndian.PutUint16(b[19:21], 0) // TotSec16: 0, use TotSec32
	b[21] = 0xF8                               // Media: fixed disk
	binary.LittleEndian.PutUint16(b[22:24], 0) // FATSz16: 0, use FATSz32
	binary.LittleEndian.PutUint16(b[24:26], 63) // SecPerTrk (legacy, unused by UEFI)
	binary.LittleEndian.PutUint16(b[26:28], 255) // NumHeads (legacy, unused by UEFI)
	binary.LittleEndian.PutUint32(b[28:32], 0)  // HiddSec: partition starts at LBA 0 of its own volume
	binary.LittleEndian.PutUint32(b[32:36], layout.totalSectors)
	binary.LittleEndian.PutUint32(b[36:40], layout.fatSectors)
	binary.LittleEndian.PutUint16(b[40:42], 0) // ExtFlags: mirrored FATs
	binary.LittleEndian.PutUint16(b[42:44], 0) // FSVer
	binary.LittleEndian.PutUint32(b[44:48], clusterRootDir)
	binary.LittleEndian.PutUint16(b[48:50], 1) // FSInfo sector
	binary.LittleEndian.PutUint16(b[50:52], 6) // Backup boot sector
	b[64] = 0x80                               // DrvNum
	b[66] = 0x29                               // BootSig
	binary.LittleEndian.PutUint32(b[67:71], 0x12345678) // VolID
	copy(b[71:82], []byte("MKBOOTIMG  "))
	copy(b[82:90], []byte("FAT32   "))
	b[510], b[511] = 0x55, 0xAA

	copy(img[6*bytesPerSector:], b) // backup boot sector

	fsInfo := img[1*bytesPerSector : 2*bytesPerSector]
	binary.LittleEndian.PutUint32(fsInfo[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(fsInfo[484:488], 0x61417272)
	binary.LittleEndian.PutUint32(fsInfo[488:492], 0xFFFFFFFF) // free cluster count unknown
	binary.LittleEndian.PutUint32(fsInfo[492:496], 0xFFFFFFFF) // next free cluster unknown
	binary.LittleEndian.PutUint32(fsInfo[508:512], 0xAA550000)
}
