// Package wal implements the commit journal. Every page a transaction
// writes is appended here and fsynced before the page is overwritten in
// place, so a crash in the middle of a commit is repaired on the next open by
// replaying the journal.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alexhholmes/slotdb/internal/base"
)

// Record represents a single WAL record
type Record struct {
	Type   uint8
	TxID   uint64
	Handle base.Handle
	Page   *base.Page
}

// Record types
const (
	RecordPage   uint8 = 1 // Page write
	RecordCommit uint8 = 2 // Commit marker
)

// RecordHeaderSize Record format: [Type:1][TxID:8][Handle:8][DataLen:4][Data:N]
const RecordHeaderSize = 1 + 8 + 8 + 4

// WAL is an append-only journal of page images grouped by transaction
type WAL struct {
	file   *os.File
	mu     sync.Mutex
	buf    *bufio.Writer
	offset int64 // Current write position
}

// Open opens or creates the journal at path
func Open(path string) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	// get current file size to set offset
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(info.Size(), io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}

	return &WAL{
		file:   file,
		buf:    bufio.NewWriterSize(file, 4*(RecordHeaderSize+base.PageSize)),
		offset: info.Size(),
	}, nil
}

func (w *WAL) writeHeader(typ uint8, txID uint64, h base.Handle, dataLen uint32) error {
	var header [RecordHeaderSize]byte
	header[0] = typ
	binary.LittleEndian.PutUint64(header[1:9], txID)
	binary.LittleEndian.PutUint64(header[9:17], uint64(h))
	binary.LittleEndian.PutUint32(header[17:21], dataLen)
	_, err := w.buf.Write(header[:])
	return err
}

// AppendPage writes a sealed page image to the WAL
// Format: [RecordPage:1][TxID:8][Handle:8][PageSize:4][Page.Data:PageSize]
func (w *WAL) AppendPage(txID uint64, page *base.Page) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeHeader(RecordPage, txID, page.Handle(), base.PageSize); err != nil {
		return err
	}
	if _, err := w.buf.Write(page.Data[:]); err != nil {
		return err
	}
	w.offset += RecordHeaderSize + base.PageSize
	return nil
}

// AppendCommit writes a commit marker and flushes buffered records to the file
// Format: [RecordCommit:1][TxID:8][0:8][0:4]
func (w *WAL) AppendCommit(txID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeHeader(RecordCommit, txID, 0, 0); err != nil {
		return err
	}
	w.offset += RecordHeaderSize
	return w.buf.Flush()
}

// Sync fsyncs the WAL
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Replay reads the WAL from the start and applies the pages of every
// transaction that has a commit marker, in log order. A torn tail left by a
// crash ends the replay without error. Returns the number of transactions
// applied.
func (w *WAL) Replay(applyFn func(*base.Page) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	defer w.file.Seek(w.offset, io.SeekStart)

	r := bufio.NewReader(w.file)
	header := make([]byte, RecordHeaderSize)

	// Map: TxID -> pages to apply if commit marker found
	uncommitted := make(map[uint64][]Record)
	applied := 0

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return applied, fmt.Errorf("wal replay read error: %w", err)
		}

		recordType := header[0]
		txID := binary.LittleEndian.Uint64(header[1:9])
		h := base.Handle(binary.LittleEndian.Uint64(header[9:17]))
		dataLen := binary.LittleEndian.Uint32(header[17:21])

		switch recordType {
		case RecordPage:
			if dataLen != base.PageSize {
				return applied, fmt.Errorf("wal replay: invalid page size: %d", dataLen)
			}
			page := &base.Page{}
			if _, err := io.ReadFull(r, page.Data[:]); err != nil {
				return applied, nil // Torn tail
			}
			if page.Verify() != nil || page.Handle() != h {
				return applied, nil // Torn tail
			}
			uncommitted[txID] = append(uncommitted[txID], Record{
				Type:   RecordPage,
				TxID:   txID,
				Handle: h,
				Page:   page,
			})

		case RecordCommit:
			for _, record := range uncommitted[txID] {
				if err := applyFn(record.Page); err != nil {
					return applied, fmt.Errorf("wal replay: failed to apply page %d: %w", record.Handle, err)
				}
			}
			delete(uncommitted, txID)
			applied++

		default:
			return applied, fmt.Errorf("wal replay: unknown record type: %d", recordType)
		}
	}
	return applied, nil
}

// Truncate drops every record. Call once the pages of all logged
// transactions are durable in the main file.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Reset(w.file)
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.offset = 0
	return nil
}

// Size returns the number of bytes in the journal
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Close closes the WAL file
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
