// Package journal persists in-flight cross-chain bridge state so a crash
// mid-transfer can be reconciled on restart (spec §4.14). Grounded on
// samkenxstream-SAMkenxtenderly-nitro's use of dgraph-io/badger/v3 as an
// embedded key-value store for durable local state.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v3"
)

// Status is the closed set of BridgeRecoveryRecord states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBridging  Status = "bridging"
	StatusRecovered Status = "recovered"
	StatusFailed    Status = "failed"
)

// MaxAge is the retention ceiling: records older than this are marked
// failed at startup scan time regardless of their current status.
const MaxAge = 24 * time.Hour

const keyPrefix = "bridge:recovery:"

// Record is the persisted BridgeRecoveryRecord (spec §3).
type Record struct {
	OpportunityID   string    `json:"opportunityId"`
	BridgeID        string    `json:"bridgeId"`
	SourceTxHash    string    `json:"sourceTxHash"`
	SourceChain     string    `json:"sourceChain"`
	DestChain       string    `json:"destChain"`
	BridgeToken     string    `json:"bridgeToken"`
	BridgeAmount    string    `json:"bridgeAmount"`
	SellDex         string    `json:"sellDex"`
	ExpectedProfit  float64   `json:"expectedProfit"`
	TokenIn         string    `json:"tokenIn"`
	TokenOut        string    `json:"tokenOut"`
	InitiatedAt     time.Time `json:"initiatedAt"`
	BridgeProtocol  string    `json:"bridgeProtocol"`
	Status          Status    `json:"status"`
	LastCheckAt     *time.Time `json:"lastCheckAt,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
}

func key(opportunityID string) []byte {
	return []byte(keyPrefix + opportunityID)
}

// Journal is a badger-backed store of BridgeRecoveryRecords.
type Journal struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database at dir.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open recovery journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Write persists rec, overwriting any existing record for the same
// opportunity ID. Callers must write before broadcasting the source-chain
// transaction (spec §4.14's write-before-action discipline).
func (j *Journal) Write(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recovery record: %w", err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.OpportunityID), data)
	})
}

// Get fetches the record for opportunityID, or (nil, false) if absent.
func (j *Journal) Get(opportunityID string) (*Record, bool, error) {
	var rec Record
	found := false
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(opportunityID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("get recovery record: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Delete removes the record for opportunityID. Called on terminal status
// (recovered or failed).
func (j *Journal) Delete(opportunityID string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(opportunityID))
	})
}

// UpdateStatus transitions the record's status and, if polling, records
// lastCheckAt/errorMessage. Deletes the record automatically once it
// reaches a terminal status (recovered or failed).
func (j *Journal) UpdateStatus(opportunityID string, status Status, now time.Time, errMsg string) error {
	rec, ok, err := j.Get(opportunityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update status: no recovery record for %s", opportunityID)
	}
	rec.Status = status
	rec.LastCheckAt = &now
	rec.ErrorMessage = errMsg

	if status == StatusRecovered || status == StatusFailed {
		return j.Delete(opportunityID)
	}
	return j.Write(rec)
}

// All returns every persisted record, for the startup reconciliation scan.
func (j *Journal) All() ([]*Record, error) {
	var out []*Record
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan recovery records: %w", err)
	}
	return out, nil
}

// ReconcileStartup scans every persisted record and marks records whose
// initiatedAt is older than MaxAge as failed, deleting them (spec §6:
// "records with initiatedAt > 24h ago are marked failed"). Returns the
// IDs it reconciled.
func (j *Journal) ReconcileStartup(now time.Time) ([]string, error) {
	records, err := j.All()
	if err != nil {
		return nil, err
	}
	var reconciled []string
	for _, rec := range records {
		if now.Sub(rec.InitiatedAt) > MaxAge {
			if err := j.Delete(rec.OpportunityID); err != nil {
				return reconciled, fmt.Errorf("reconcile %s: %w", rec.OpportunityID, err)
			}
			reconciled = append(reconciled, rec.OpportunityID)
		}
	}
	return reconciled, nil
}
