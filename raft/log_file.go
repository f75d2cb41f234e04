// raft/log_file.go
package raft

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// fileLogRecordType tags the two kinds of record a FileLog appends,
// mirroring storage/wal.go's op-byte-then-fields framing.
type fileLogRecordType byte

const (
	recordEntry    fileLogRecordType = 1
	recordTermVote fileLogRecordType = 2
)

// TermVotePersister is satisfied by a Log that can durably record
// current_term/voted_for ahead of any reply that depends on them (§6:
// "Persisted state"). A Log that does not need to survive crashes (e.g.
// InMemoryLog in tests) need not implement it.
type TermVotePersister interface {
	SaveTermAndVote(term uint64, votedFor NodeID) error
	LoadedTermAndVote() (term uint64, votedFor NodeID)
}

// FileLog is a durable Log backed by a single append-only file. Log
// entries and the persisted (term, votedFor) pair are framed as
// length-prefixed records, the same shape as storage/wal.go's
// timestamp|op|keylen|key|vallen|val records. I/O errors are returned
// wrapped with a "(fatal)" marker; the replica does not halt on them.
// A failed write is never acknowledged: Submit returns the error and
// an inbound AppendEntries answers success=false.
type FileLog struct {
	mu     sync.Mutex
	mem    *InMemoryLog
	file   *os.File
	writer *bufio.Writer
	path   string

	currentTerm uint64
	votedFor    NodeID
}

// NewFileLog opens (creating if absent) the log file under dir, replays
// it to rebuild in-memory state, and validates index/term monotonicity.
func NewFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("raft: create log directory: %w", err)
	}

	path := filepath.Join(dir, "raft-log.bin")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("raft: open log file: %w", err)
	}

	fl := &FileLog{
		mem:  NewInMemoryLog(),
		file: file,
		path: path,
	}

	if err := fl.reload(); err != nil {
		file.Close()
		return nil, fmt.Errorf("raft: reload log: %w", err)
	}

	return fl, nil
}

func (fl *FileLog) reload() error {
	if _, err := fl.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(fl.file)
	var lastIndex, lastTerm uint64

	for {
		recType, err := reader.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch fileLogRecordType(recType) {
		case recordEntry:
			var index, term uint64
			var length uint32
			if err := binary.Read(reader, binary.BigEndian, &index); err != nil {
				return err
			}
			if err := binary.Read(reader, binary.BigEndian, &term); err != nil {
				return err
			}
			if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
				return err
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return err
			}
			if index != lastIndex+1 {
				return fmt.Errorf("raft: log file index gap: expected %d, got %d", lastIndex+1, index)
			}
			if term < lastTerm {
				return fmt.Errorf("raft: log file term regression at index %d: %d after %d", index, term, lastTerm)
			}
			fl.mem.entries = append(fl.mem.entries, Entry{Index: index, Term: term, Payload: payload})
			lastIndex, lastTerm = index, term

		case recordTermVote:
			var term uint64
			var voterLen uint32
			if err := binary.Read(reader, binary.BigEndian, &term); err != nil {
				return err
			}
			if err := binary.Read(reader, binary.BigEndian, &voterLen); err != nil {
				return err
			}
			voter := make([]byte, voterLen)
			if _, err := io.ReadFull(reader, voter); err != nil {
				return err
			}
			fl.currentTerm = term
			fl.votedFor = NodeID(voter)

		default:
			return fmt.Errorf("raft: unknown log record type %d", recType)
		}
	}

	if _, err := fl.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	fl.writer = bufio.NewWriter(fl.file)
	return nil
}

func writeEntryRecord(w io.Writer, e Entry) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(recordEntry))
	if err := binary.Write(&buf, binary.BigEndian, e.Index); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, e.Term); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(e.Payload))); err != nil {
		return err
	}
	buf.Write(e.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

func writeTermVoteRecord(w io.Writer, term uint64, votedFor NodeID) error {
	var buf bytes.Buffer
	buf.WriteByte(byte(recordTermVote))
	if err := binary.Write(&buf, binary.BigEndian, term); err != nil {
		return err
	}
	voter := []byte(votedFor)
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(voter))); err != nil {
		return err
	}
	buf.Write(voter)
	_, err := w.Write(buf.Bytes())
	return err
}

func (fl *FileLog) LoadedTermAndVote() (uint64, NodeID) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.currentTerm, fl.votedFor
}

func (fl *FileLog) SaveTermAndVote(term uint64, votedFor NodeID) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := writeTermVoteRecord(fl.writer, term, votedFor); err != nil {
		return fmt.Errorf("raft: durability failure persisting term/vote (fatal): %w", err)
	}
	if err := fl.writer.Flush(); err != nil {
		return fmt.Errorf("raft: durability failure flushing term/vote (fatal): %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("raft: durability failure syncing term/vote (fatal): %w", err)
	}

	fl.currentTerm, fl.votedFor = term, votedFor
	return nil
}

func (fl *FileLog) LastIndex() uint64 { return fl.mem.LastIndex() }

func (fl *FileLog) EntryAt(index uint64) (Entry, bool) { return fl.mem.EntryAt(index) }

func (fl *FileLog) RangeFrom(from uint64) []Entry { return fl.mem.RangeFrom(from) }

func (fl *FileLog) OtherIsAtLeastAsUpToDate(otherLastIndex, otherLastTerm uint64) bool {
	return fl.mem.OtherIsAtLeastAsUpToDate(otherLastIndex, otherLastTerm)
}

// Append durably appends a leader's own new entries (no conflict
// possible: this is always called at LastIndex()+1).
func (fl *FileLog) Append(entries []Entry) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for _, e := range entries {
		if err := writeEntryRecord(fl.writer, e); err != nil {
			return fmt.Errorf("raft: durability failure appending entry %d (fatal): %w", e.Index, err)
		}
	}
	if err := fl.writer.Flush(); err != nil {
		return fmt.Errorf("raft: durability failure flushing log (fatal): %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("raft: durability failure syncing log (fatal): %w", err)
	}

	return fl.mem.Append(entries)
}

// AppendWithTruncate applies the follower-side reconciliation. Heartbeats
// and idempotent resends (the common case: called on every inbound
// AppendEntries) touch nothing on disk; a genuine conflict rewrites the
// backing file from the resulting in-memory log (written to a temp file
// that is then renamed over the original); anything else
// is a pure append of the new suffix, appended in place like Append.
func (fl *FileLog) AppendWithTruncate(prevIndex, prevTerm uint64, entries []Entry) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	beforeLastIndex := fl.mem.LastIndex()
	conflict := fl.hasConflictLocked(entries)

	if err := fl.mem.AppendWithTruncate(prevIndex, prevTerm, entries); err != nil {
		return err
	}

	if conflict {
		if err := fl.rewriteLocked(); err != nil {
			return fmt.Errorf("raft: durability failure rewriting log (fatal): %w", err)
		}
		return nil
	}

	if fl.mem.LastIndex() == beforeLastIndex {
		// Heartbeat (no entries) or a full idempotent resend: nothing
		// new landed, so there is nothing to durably write.
		return nil
	}

	for _, e := range entries {
		if e.Index <= beforeLastIndex {
			continue
		}
		if err := writeEntryRecord(fl.writer, e); err != nil {
			return fmt.Errorf("raft: durability failure appending entry %d (fatal): %w", e.Index, err)
		}
	}
	if err := fl.writer.Flush(); err != nil {
		return fmt.Errorf("raft: durability failure flushing log (fatal): %w", err)
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("raft: durability failure syncing log (fatal): %w", err)
	}
	return nil
}

// hasConflictLocked reports whether any incoming entry collides with an
// existing entry at the same index under a different term — the only
// case that requires truncating and rewriting the backing file. Must be
// called before mem.AppendWithTruncate mutates the log out from under it.
func (fl *FileLog) hasConflictLocked(entries []Entry) bool {
	for _, e := range entries {
		existing, ok := fl.mem.EntryAt(e.Index)
		if ok && existing.Term != e.Term {
			return true
		}
	}
	return false
}

func (fl *FileLog) rewriteLocked() error {
	tmpPath := fl.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(tmp)
	if fl.currentTerm != 0 || fl.votedFor != "" {
		if err := writeTermVoteRecord(w, fl.currentTerm, fl.votedFor); err != nil {
			tmp.Close()
			return err
		}
	}
	for _, e := range fl.mem.entries {
		if err := writeEntryRecord(w, e); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, fl.path); err != nil {
		return err
	}

	if err := fl.file.Close(); err != nil {
		return err
	}
	file, err := os.OpenFile(fl.path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	fl.file = file
	fl.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and closes the backing file.
func (fl *FileLog) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if err := fl.writer.Flush(); err != nil {
		return err
	}
	return fl.file.Close()
}
