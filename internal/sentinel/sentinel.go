// Package sentinel implements the exchange's write-ahead log: a
// fixed-capacity memory-mapped file with a packed 25-byte header per entry,
// written with no syscall on the append path. Durability is an explicit
// Flush/FlushAsync (msync) call, never implicit.
package sentinel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"golang.org/x/sys/unix"
)

// Journal msg_type values. This is the WAL's own namespace: distinct from
// the gateway wire protocol's MsgType constants in package wire, which share
// some numeric values for unrelated payloads.
const (
	MsgNewOrder    byte = 0x01
	MsgOrderCancel byte = 0x02
	MsgAddFunds    byte = 0x10
	MsgAdminHalt   byte = 0xFF
	msgTailZero    byte = 0x00
)

// headerSize is the packed on-disk size of JournalHeader: seq(8) + ts_ns(8)
// + msg_type(1) + payload_size(4) + crc32(4).
const headerSize = 25

// JournalHeader prefixes every journal entry.
type JournalHeader struct {
	Seq         uint64
	TsNs        uint64
	MsgType     byte
	PayloadSize uint32
	CRC32       uint32
}

func (h JournalHeader) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Seq)
	binary.LittleEndian.PutUint64(buf[8:16], h.TsNs)
	buf[16] = h.MsgType
	binary.LittleEndian.PutUint32(buf[17:21], h.PayloadSize)
	binary.LittleEndian.PutUint32(buf[21:25], h.CRC32)
	return buf
}

func unmarshalHeader(buf []byte) JournalHeader {
	return JournalHeader{
		Seq:         binary.LittleEndian.Uint64(buf[0:8]),
		TsNs:        binary.LittleEndian.Uint64(buf[8:16]),
		MsgType:     buf[16],
		PayloadSize: binary.LittleEndian.Uint32(buf[17:21]),
		CRC32:       binary.LittleEndian.Uint32(buf[21:25]),
	}
}

func (h JournalHeader) isZero() bool {
	return h.Seq == 0 && h.TsNs == 0 && h.MsgType == msgTailZero && h.PayloadSize == 0 && h.CRC32 == 0
}

// JournalEntry is one decoded, validated record recovered from the log.
type JournalEntry struct {
	Seq     uint64
	TsNs    uint64
	MsgType byte
	Payload []byte
}

// ErrCapacity is returned by Append once the journal's fixed-capacity mmap
// region has no room left for another entry. The exchange pipeline treats
// this as a halt condition: no new order may be accepted until the journal
// is rotated.
var ErrCapacity = errors.New("sentinel: journal at capacity")

// Sentinel is a single fixed-capacity mmap-backed append-only log.
type Sentinel struct {
	file        *os.File
	data        []byte
	writeOffset int
	nextSeq     uint64
}

// Open mmaps path, creating it if absent and extending it to capacity bytes
// if it is shorter, then scans forward to find the recovery point:
// the offset just past the last entry whose header and CRC are intact.
func Open(path string, capacity int) (*Sentinel, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sentinel: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < int64(capacity) {
		if err := f.Truncate(int64(capacity)); err != nil {
			f.Close()
			return nil, fmt.Errorf("sentinel: truncate to capacity: %w", err)
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sentinel: mmap: %w", err)
	}
	s := &Sentinel{file: f, data: data}
	s.recover()
	return s, nil
}

// recover scans from offset 0, stopping at the first header that is a
// sequence-number mismatch, an all-zero tail sentinel, a truncated record
// (not enough bytes remain for the declared header+payload), or a CRC
// mismatch over the payload. Whatever is valid before that point becomes the
// new append position.
func (s *Sentinel) recover() {
	offset := 0
	expectedSeq := uint64(0)
	for offset+headerSize <= len(s.data) {
		hdr := unmarshalHeader(s.data[offset : offset+headerSize])
		if hdr.isZero() {
			break
		}
		if hdr.Seq != expectedSeq {
			break
		}
		payloadStart := offset + headerSize
		payloadEnd := payloadStart + int(hdr.PayloadSize)
		if payloadEnd > len(s.data) {
			break
		}
		payload := s.data[payloadStart:payloadEnd]
		if crc32.ChecksumIEEE(payload) != hdr.CRC32 {
			break
		}
		offset = payloadEnd
		expectedSeq++
	}
	s.writeOffset = offset
	s.nextSeq = expectedSeq
}

// Append writes one entry at the current write offset with no syscall:
// a plain slice write into the mmap'd region. tsNs is supplied by the
// caller (a logical tick, never a wall-clock read) so that replay is
// byte-for-byte deterministic.
func (s *Sentinel) Append(msgType byte, tsNs uint64, payload []byte) (uint64, error) {
	need := headerSize + len(payload)
	if s.writeOffset+need > len(s.data) {
		return 0, ErrCapacity
	}
	seq := s.nextSeq
	hdr := JournalHeader{
		Seq:         seq,
		TsNs:        tsNs,
		MsgType:     msgType,
		PayloadSize: uint32(len(payload)),
		CRC32:       crc32.ChecksumIEEE(payload),
	}
	copy(s.data[s.writeOffset:s.writeOffset+headerSize], hdr.marshal())
	copy(s.data[s.writeOffset+headerSize:s.writeOffset+need], payload)
	s.writeOffset += need
	s.nextSeq++
	return seq, nil
}

// Entries returns every validated entry currently in the log, in sequence
// order, by re-running the same scan Open used for recovery. Used by the
// exchange pipeline to replay state after a restart.
func (s *Sentinel) Entries() []JournalEntry {
	entries := make([]JournalEntry, 0, 64)
	offset := 0
	expectedSeq := uint64(0)
	for offset+headerSize <= len(s.data) {
		hdr := unmarshalHeader(s.data[offset : offset+headerSize])
		if hdr.isZero() || hdr.Seq != expectedSeq {
			break
		}
		payloadStart := offset + headerSize
		payloadEnd := payloadStart + int(hdr.PayloadSize)
		if payloadEnd > len(s.data) {
			break
		}
		payload := s.data[payloadStart:payloadEnd]
		if crc32.ChecksumIEEE(payload) != hdr.CRC32 {
			break
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		entries = append(entries, JournalEntry{Seq: hdr.Seq, TsNs: hdr.TsNs, MsgType: hdr.MsgType, Payload: cp})
		offset = payloadEnd
		expectedSeq++
	}
	return entries
}

// Flush issues a synchronous msync, guaranteeing every append so far is
// durable before it returns.
func (s *Sentinel) Flush() error {
	return unix.Msync(s.data, unix.MS_SYNC)
}

// FlushAsync issues an asynchronous msync, scheduling the writeback without
// waiting for it.
func (s *Sentinel) FlushAsync() error {
	return unix.Msync(s.data, unix.MS_ASYNC)
}

// NextSeq reports the sequence number the next Append will use.
func (s *Sentinel) NextSeq() uint64 { return s.nextSeq }

// Close flushes, unmaps, and closes the backing file.
func (s *Sentinel) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return s.file.Close()
}
