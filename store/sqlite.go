package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Polqt/crdtcollab/crdt"
)

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	doc_id     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	op_json    TEXT NOT NULL,
	clock_json TEXT NOT NULL,
	PRIMARY KEY (doc_id, version)
);
CREATE TABLE IF NOT EXISTS snapshots (
	doc_id     TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	clock_json TEXT NOT NULL,
	bytes      BLOB NOT NULL
);
`

// SQLiteStore is the durable OperationStore realization: a WAL-mode
// SQLite database holding one row per operation plus one snapshot row
// per document, for survival across process restarts (exercises S6).
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenSQLiteStore opens (creating if absent) a SQLite database at path
// in WAL mode and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) lockFor(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

func (s *SQLiteStore) latestVersionTx(docID string) (Version, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM operations WHERE doc_id = ?`, docID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("store: query latest version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return Version(v.Int64), nil
}

// SaveOperation persists op for docID under the next version number.
func (s *SQLiteStore) SaveOperation(docID string, op crdt.CrdtOp) (Version, error) {
	versions, err := s.SaveOperations(docID, []crdt.CrdtOp{op})
	if err != nil {
		return 0, err
	}
	return versions[0], nil
}

// SaveOperations persists every op in ops for docID, in order, within
// a single transaction serialized against concurrent writers on the
// same document.
func (s *SQLiteStore) SaveOperations(docID string, ops []crdt.CrdtOp) ([]Version, error) {
	lock := s.lockFor(docID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	version, err := s.latestVersionTx(docID)
	if err != nil {
		return nil, err
	}

	runningClock := make(map[uint64]uint64)
	rows, err := tx.Query(`SELECT clock_json FROM operations WHERE doc_id = ? ORDER BY version DESC LIMIT 1`, docID)
	if err != nil {
		return nil, fmt.Errorf("store: query running clock: %w", err)
	}
	if rows.Next() {
		var clockJSON string
		if err := rows.Scan(&clockJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan running clock: %w", err)
		}
		if err := json.Unmarshal([]byte(clockJSON), &runningClock); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: decode running clock: %w", err)
		}
	}
	rows.Close()

	versions := make([]Version, 0, len(ops))
	for _, op := range ops {
		version++
		id := op.ID()
		if seq := id.Seq; seq > runningClock[uint64(id.ClientID)] {
			runningClock[uint64(id.ClientID)] = seq
		}

		opJSON, err := crdt.MarshalOpJSON(op)
		if err != nil {
			return nil, fmt.Errorf("store: encode op: %w", err)
		}
		clockJSON, err := json.Marshal(runningClock)
		if err != nil {
			return nil, fmt.Errorf("store: encode clock: %w", err)
		}

		_, err = tx.Exec(
			`INSERT INTO operations (doc_id, version, op_json, clock_json) VALUES (?, ?, ?, ?)`,
			docID, int64(version), string(opJSON), string(clockJSON),
		)
		if err != nil {
			return nil, fmt.Errorf("store: insert operation: %w", err)
		}
		versions = append(versions, version)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit tx: %w", err)
	}
	return versions, nil
}

// OperationsSince returns every stored operation for docID with
// version > version, in ascending version order.
func (s *SQLiteStore) OperationsSince(docID string, version Version) ([]StoredOperation, error) {
	rows, err := s.db.Query(
		`SELECT version, op_json, clock_json FROM operations WHERE doc_id = ? AND version > ? ORDER BY version ASC`,
		docID, int64(version),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query operations since: %w", err)
	}
	defer rows.Close()

	var out []StoredOperation
	for rows.Next() {
		var v int64
		var opJSON, clockJSON string
		if err := rows.Scan(&v, &opJSON, &clockJSON); err != nil {
			return nil, fmt.Errorf("store: scan stored operation: %w", err)
		}
		op, err := crdt.UnmarshalOpJSON([]byte(opJSON))
		if err != nil {
			return nil, fmt.Errorf("store: decode stored operation: %w", err)
		}
		clk := make(map[uint64]uint64)
		if err := json.Unmarshal([]byte(clockJSON), &clk); err != nil {
			return nil, fmt.Errorf("store: decode stored clock: %w", err)
		}
		out = append(out, StoredOperation{Version: Version(v), Op: op, Clock: clk})
	}
	return out, rows.Err()
}

// LatestVersion returns docID's current version, or 0 if unseen.
func (s *SQLiteStore) LatestVersion(docID string) (Version, error) {
	return s.latestVersionTx(docID)
}

// SaveSnapshot overwrites any prior snapshot row for docID.
func (s *SQLiteStore) SaveSnapshot(docID string, snap Snapshot) error {
	clockJSON, err := json.Marshal(snap.Clock)
	if err != nil {
		return fmt.Errorf("store: encode snapshot clock: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (doc_id, version, clock_json, bytes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET version = excluded.version, clock_json = excluded.clock_json, bytes = excluded.bytes`,
		docID, int64(snap.Version), string(clockJSON), snap.Bytes,
	)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns docID's snapshot row, or nil if none exists.
func (s *SQLiteStore) LatestSnapshot(docID string) (*Snapshot, error) {
	var version int64
	var clockJSON string
	var bytes []byte
	err := s.db.QueryRow(
		`SELECT version, clock_json, bytes FROM snapshots WHERE doc_id = ?`, docID,
	).Scan(&version, &clockJSON, &bytes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query snapshot: %w", err)
	}
	clk := make(map[uint64]uint64)
	if err := json.Unmarshal([]byte(clockJSON), &clk); err != nil {
		return nil, fmt.Errorf("store: decode snapshot clock: %w", err)
	}
	return &Snapshot{Version: Version(version), Clock: clk, Bytes: bytes}, nil
}

// DeleteDocument removes every operation and snapshot row for docID.
func (s *SQLiteStore) DeleteDocument(docID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM operations WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("store: delete operations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM snapshots WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("store: delete snapshot: %w", err)
	}
	return tx.Commit()
}

// DocumentExists reports whether docID has any operation or snapshot
// row.
func (s *SQLiteStore) DocumentExists(docID string) bool {
	var exists int
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM operations WHERE doc_id = ? UNION SELECT 1 FROM snapshots WHERE doc_id = ?)`,
		docID, docID,
	).Scan(&exists)
	return err == nil && exists == 1
}

var _ OperationStore = (*SQLiteStore)(nil)
