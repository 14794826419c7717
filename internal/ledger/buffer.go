package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FailOpenBuffer is the disk write-ahead buffer the ledger falls back to
// when the durable store is unreachable, so that the audit path degrades
// to disk rather than losing entries, per spec §7. It wraps
// lumberjack.Logger for rotation, a dependency the teacher's go.mod
// carries but never wires into any source file.
type FailOpenBuffer struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
}

// NewFailOpenBuffer opens (creating if needed) a rotating NDJSON buffer
// file at path.
func NewFailOpenBuffer(path string) *FailOpenBuffer {
	return &FailOpenBuffer{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		},
	}
}

type bufferedRecord struct {
	OrgID     string          `json:"org_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Write appends one record as a single NDJSON line.
func (b *FailOpenBuffer) Write(orgID string, kind Kind, payload json.RawMessage, createdAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := bufferedRecord{OrgID: orgID, Kind: string(kind), Payload: payload, CreatedAt: createdAt}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: marshal buffered record: %w", err)
	}
	line = append(line, '\n')
	_, err = b.writer.Write(line)
	return err
}

// Close flushes and closes the underlying rotating file.
func (b *FailOpenBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writer.Close()
}
