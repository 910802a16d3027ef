package pgraph

import (
	"sync"

	"github.com/IntelLabs/vdms-go/cmn"
)

// Store is the embedded property graph itself: the arena of nodes and
// edges, the tag-scan indices every query falls back to, and the
// buntdb-backed secondary indices BuildIndex populates.
//
// All mutation happens through a Transaction acquired via Begin/BeginRO,
// which serializes against the Store's RWLock.
type Store struct {
	lock *RWLock
	idx  *indices

	// mu guards the maps below. The RWLock above is the *transactional*
	// concurrency control (one writer xor many readers); mu is a plain
	// implementation-detail mutex protecting the Go maps themselves
	// from the data race the Go runtime would otherwise flag, since a
	// committed reader transaction and a new writer's bookkeeping can
	// still overlap for the few instructions around a map write.
	mu         sync.Mutex
	nodes      map[ID]*Node
	edges      map[ID]*Edge
	nodesByTag map[string][]ID
	edgesByTag map[string][]ID
	outEdges   map[ID][]ID
	inEdges    map[ID][]ID
	nextID     ID
}

// New builds an empty Store. maxLockAttempts bounds the RWLock's backoff
// retries; a value <= 0 uses cmn.DefaultMaxLockAttempts.
func New(maxLockAttempts int) (*Store, error) {
	idx, err := newIndices()
	if err != nil {
		return nil, err
	}
	return &Store{
		lock:       NewRWLock(maxLockAttempts),
		idx:        idx,
		nodes:      make(map[ID]*Node),
		edges:      make(map[ID]*Edge),
		nodesByTag: make(map[string][]ID),
		edgesByTag: make(map[string][]ID),
		outEdges:   make(map[ID][]ID),
		inEdges:    make(map[ID][]ID),
		nextID:     1,
	}, nil
}

func (s *Store) Close() error { return s.idx.Close() }

func (s *Store) node(id ID) (*Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

func (s *Store) edge(id ID) (*Edge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	return e, ok
}

// tagNodes returns a copy of the id list for a tag, taken under the
// store mutex.
func (s *Store) tagNodes(tag string) []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ID(nil), s.nodesByTag[tag]...)
}

func (s *Store) tagEdges(tag string) []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ID(nil), s.edgesByTag[tag]...)
}

// BuildIndex is the explicit, offline "build index" operation. It is
// not part of the batch command protocol: it runs under its own
// write lock acquisition so it can be invoked between batches (or, for
// tests, directly) without going through a Transaction.
func (s *Store) BuildIndex(tag, key string) error {
	if err := s.lock.WriteLock(); err != nil {
		return err
	}
	defer s.lock.WriteUnlock()
	s.mu.Lock()
	snapshot := make(map[ID]*Node, len(s.nodes))
	for id, n := range s.nodes {
		snapshot[id] = n
	}
	s.mu.Unlock()
	return s.idx.Build(tag, key, snapshot)
}

// HasIndex reports whether a secondary index exists for (tag,key,kind),
// used by the query compiler to decide between an index scan and a full
// tag scan.
func (s *Store) HasIndex(tag, key string, kind cmn.ValueKind) bool {
	return s.idx.Has(tag, key, kind)
}
