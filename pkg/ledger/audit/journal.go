// Package audit persists execution records in a journal separate from the
// ledger's row store. Records are committed on their own, so a rolled-back
// invocation keeps its audit trail even though its economic effects are
// erased.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/scrip-ledger/scrip/internal/types"
)

var (
	// ErrUnknownExecution is returned when no record exists for an id.
	ErrUnknownExecution = errors.New("unknown execution")

	// ErrJournal wraps underlying journal persistence faults.
	ErrJournal = errors.New("journal fault")
)

var bucketExecutions = []byte("executions")

// Record is one contract invocation's audit entry. It is written pending at
// start and finalized exactly once with a terminal status.
type Record struct {
	ID      types.ExecutionID     `json:"id"`
	Receipt types.Receipt         `json:"receipt"`
	Caller  types.AccountID       `json:"caller"`
	Owner   types.AccountID       `json:"owner"`
	Input   string                `json:"input,omitempty"`
	Output  string                `json:"output,omitempty"`
	Error   string                `json:"error,omitempty"`
	Cost    int64                 `json:"cost"`
	Status  types.ExecutionStatus `json:"status"`

	StartedAt  int64 `json:"started_at"`
	FinishedAt int64 `json:"finished_at,omitempty"`
}

// Journal is the bbolt-backed execution journal.
type Journal struct {
	db *bolt.DB
}

// Open opens the journal file, creating it if needed.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrJournal, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketExecutions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init: %v", ErrJournal, err)
	}
	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin allocates an execution id and writes the pending record. The write
// commits immediately, independent of the economic transaction in flight.
func (j *Journal) Begin(caller, owner types.AccountID, input string, startedAt int64) (*Record, error) {
	var rec *Record
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec = &Record{
			ID:        types.ExecutionID(seq),
			Caller:    caller,
			Owner:     owner,
			Input:     input,
			Status:    types.ExecutionPending,
			StartedAt: startedAt,
		}
		rec.Receipt = types.ComputeReceipt(receiptSeed(rec))
		return putRecord(b, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrJournal, err)
	}
	return rec, nil
}

// Finish finalizes a record with its terminal status, output, and metered
// cost.
func (j *Journal) Finish(rec *Record) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("%w: finish with status %q", ErrJournal, rec.Status)
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(bucketExecutions), rec)
	})
	if err != nil {
		return fmt.Errorf("%w: finish: %v", ErrJournal, err)
	}
	return nil
}

// Get returns a record by execution id.
func (j *Journal) Get(id types.ExecutionID) (*Record, error) {
	var rec Record
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketExecutions).Get(recordKey(id))
		if raw == nil {
			return ErrUnknownExecution
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownExecution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get: %v", ErrJournal, err)
	}
	return &rec, nil
}

// Recent returns up to limit of the newest records, newest first.
func (j *Journal) Recent(limit int) ([]*Record, error) {
	var recs []*Record
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketExecutions).Cursor()
		for k, v := c.Last(); k != nil && len(recs) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: recent: %v", ErrJournal, err)
	}
	return recs, nil
}

func recordKey(id types.ExecutionID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func putRecord(b *bolt.Bucket, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(recordKey(rec.ID), raw)
}

// receiptSeed is the byte material receipts are derived from: the id plus
// the invocation endpoints and start time, unique per execution.
func receiptSeed(rec *Record) []byte {
	seed := make([]byte, 0, 64)
	seed = append(seed, recordKey(rec.ID)...)
	seed = append(seed, rec.Caller...)
	seed = append(seed, 0x00)
	seed = append(seed, rec.Owner...)
	seed = append(seed, 0x00)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(rec.StartedAt))
	seed = append(seed, ts[:]...)
	return seed
}
