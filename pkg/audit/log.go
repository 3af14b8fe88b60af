// Package audit is the append-only, tamper-evident record of every
// decision and delivery attempt. Each record links to its predecessor
// by hash; editing any stored record breaks the chain for everything
// after it. Append is the only mutating operation.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
)

// Store is the durable side of the log. *GormStore is the production
// implementation.
type Store interface {
	Insert(ctx context.Context, row *Row) error
	Last(ctx context.Context) (*Row, error)
	List(ctx context.Context, filter Filter) ([]Row, error)
}

type Log struct {
	store Store

	mu       sync.Mutex
	lastSeq  int64
	lastHash string
	loaded   bool
}

func NewLog(store Store) *Log {
	return &Log{store: store, lastHash: GenesisHash}
}

// Append extends the chain and returns the assigned sequence number.
// Sequence numbers are strictly increasing and survive restarts: the
// chain head is reloaded from the store on first use.
func (l *Log) Append(ctx context.Context, recordType, patientRef string, payload map[string]interface{}) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		if err := l.loadHead(ctx); err != nil {
			return 0, fmt.Errorf("loading audit chain head: %w", err)
		}
	}

	row := Row{
		Sequence:   l.lastSeq + 1,
		ActionID:   uuid.New().String(),
		RecordType: recordType,
		PatientRef: truncateRef(patientRef),
		Payload:    payload,
		PrevHash:   l.lastHash,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}

	hash, err := computeHash(row.Sequence, row.ActionID, row.RecordType, row.PatientRef, payload, row.CreatedAt, row.PrevHash)
	if err != nil {
		return 0, err
	}
	row.Hash = hash

	if err := l.store.Insert(ctx, &row); err != nil {
		return 0, fmt.Errorf("appending audit record: %w", err)
	}

	l.lastSeq = row.Sequence
	l.lastHash = row.Hash

	logger.Log.WithFields(map[string]interface{}{
		"sequence":    row.Sequence,
		"record_type": recordType,
	}).Debug("audit record appended")

	return row.Sequence, nil
}

// Read returns matching records in ascending sequence order.
func (l *Log) Read(ctx context.Context, filter Filter) ([]models.AuditRecord, error) {
	rows, err := l.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	records := make([]models.AuditRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return records, nil
}

// Verify recomputes the chain over the full log and reports the first
// sequence whose link value does not match, or 0 when intact.
func (l *Log) Verify(ctx context.Context) (int64, error) {
	rows, err := l.store.List(ctx, Filter{})
	if err != nil {
		return 0, err
	}

	prevHash := GenesisHash
	var prevSeq int64
	for _, row := range rows {
		if row.Sequence <= prevSeq {
			return row.Sequence, fmt.Errorf("sequence %d not strictly increasing", row.Sequence)
		}
		if row.PrevHash != prevHash {
			return row.Sequence, fmt.Errorf("record %d links to %q, chain head is %q", row.Sequence, row.PrevHash, prevHash)
		}
		hash, err := computeHash(row.Sequence, row.ActionID, row.RecordType, row.PatientRef, row.Payload, row.CreatedAt, row.PrevHash)
		if err != nil {
			return row.Sequence, err
		}
		if hash != row.Hash {
			return row.Sequence, fmt.Errorf("record %d hash mismatch", row.Sequence)
		}
		prevHash = row.Hash
		prevSeq = row.Sequence
	}
	return 0, nil
}

func (l *Log) loadHead(ctx context.Context) error {
	last, err := l.store.Last(ctx)
	if err != nil {
		return err
	}
	if last != nil {
		l.lastSeq = last.Sequence
		l.lastHash = last.Hash
	}
	l.loaded = true
	return nil
}

// truncateRef keeps audit payloads free of full patient identifiers.
func truncateRef(patientRef string) string {
	if len(patientRef) > 8 {
		return patientRef[:8] + "..."
	}
	return patientRef
}
