package store

import (
	"sync"

	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

type documentStorage struct {
	mu         sync.Mutex
	operations []StoredOperation
	version    Version
	clock      *clock.VectorClock
	snapshot   *Snapshot
}

func newDocumentStorage() *documentStorage {
	return &documentStorage{clock: clock.NewVectorClock()}
}

// MemoryStore is the default, in-process OperationStore realization:
// every document's history lives in a map guarded by a top-level lock
// for membership changes, with per-document locks serializing writes.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]*documentStorage
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[string]*documentStorage)}
}

func (s *MemoryStore) docFor(docID string) *documentStorage {
	s.mu.RLock()
	doc, ok := s.documents[docID]
	s.mu.RUnlock()
	if ok {
		return doc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok = s.documents[docID]; ok {
		return doc
	}
	doc = newDocumentStorage()
	s.documents[docID] = doc
	return doc
}

// SaveOperation appends op to docID's history, assigning it the next
// version and a clock snapshot taken after folding op in.
func (s *MemoryStore) SaveOperation(docID string, op crdt.CrdtOp) (Version, error) {
	doc := s.docFor(docID)
	doc.mu.Lock()
	defer doc.mu.Unlock()

	doc.version++
	snap := vectorClockSnapshot(doc.clock, op)
	doc.operations = append(doc.operations, StoredOperation{Version: doc.version, Op: op, Clock: snap})
	return doc.version, nil
}

// SaveOperations saves each op in ops in order, as if by repeated
// SaveOperation calls, but under a single lock acquisition.
func (s *MemoryStore) SaveOperations(docID string, ops []crdt.CrdtOp) ([]Version, error) {
	doc := s.docFor(docID)
	doc.mu.Lock()
	defer doc.mu.Unlock()

	versions := make([]Version, 0, len(ops))
	for _, op := range ops {
		doc.version++
		snap := vectorClockSnapshot(doc.clock, op)
		doc.operations = append(doc.operations, StoredOperation{Version: doc.version, Op: op, Clock: snap})
		versions = append(versions, doc.version)
	}
	return versions, nil
}

// OperationsSince returns every operation for docID with version >
// version. A document that has never been seen yields an empty slice,
// not an error.
func (s *MemoryStore) OperationsSince(docID string, version Version) ([]StoredOperation, error) {
	s.mu.RLock()
	doc, ok := s.documents[docID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	var out []StoredOperation
	for _, so := range doc.operations {
		if so.Version > version {
			out = append(out, so)
		}
	}
	return out, nil
}

// LatestVersion returns docID's current version, or 0 for a document
// that has never been seen.
func (s *MemoryStore) LatestVersion(docID string) (Version, error) {
	s.mu.RLock()
	doc, ok := s.documents[docID]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.version, nil
}

// SaveSnapshot overwrites any prior snapshot for docID.
func (s *MemoryStore) SaveSnapshot(docID string, snap Snapshot) error {
	doc := s.docFor(docID)
	doc.mu.Lock()
	defer doc.mu.Unlock()
	cp := snap
	doc.snapshot = &cp
	return nil
}

// LatestSnapshot returns docID's snapshot, or nil if none has been
// saved.
func (s *MemoryStore) LatestSnapshot(docID string) (*Snapshot, error) {
	s.mu.RLock()
	doc, ok := s.documents[docID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if doc.snapshot == nil {
		return nil, nil
	}
	cp := *doc.snapshot
	return &cp, nil
}

// DeleteDocument removes all history and snapshots for docID.
func (s *MemoryStore) DeleteDocument(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, docID)
	return nil
}

// DocumentExists reports whether docID has any recorded state.
func (s *MemoryStore) DocumentExists(docID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.documents[docID]
	return ok
}

// DocumentCount reports how many documents the store currently holds.
func (s *MemoryStore) DocumentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// ListDocuments returns every document id currently tracked.
func (s *MemoryStore) ListDocuments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.documents))
	for id := range s.documents {
		out = append(out, id)
	}
	return out
}

// Clear drops every document the store holds.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = make(map[string]*documentStorage)
}

// EstimateMemoryUsage returns a cheap, very rough byte-size estimate
// across every document, useful only as an operational signal.
func (s *MemoryStore) EstimateMemoryUsage() StorageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StorageStats{DocumentCount: len(s.documents)}
	for _, doc := range s.documents {
		doc.mu.Lock()
		stats.TotalOperations += len(doc.operations)
		stats.EstimatedBytes += len(doc.operations) * 128
		if doc.snapshot != nil {
			stats.EstimatedBytes += len(doc.snapshot.Bytes)
		}
		doc.mu.Unlock()
	}
	return stats
}

var _ OperationStore = (*MemoryStore)(nil)
