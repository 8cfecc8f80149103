package queue

// Store is the backing storage for pending redemption requests. Both
// implementations preserve strict insertion order; they differ only in
// how dequeued slots are reclaimed:
//
//   - IndexedStore keeps a head/tail-indexed map, clears dequeued slots
//     and never reuses them. O(1) per operation; active storage is
//     bounded by tail − head at all times.
//   - CompactingStore keeps an append-only slice with an advancing head
//     index and periodically shifts the remainder down once the head
//     passes half the slice. Bounds total allocated capacity at the
//     cost of an occasional O(n) compaction.
//
// IndexedStore is the default; pick CompactingStore when a hard bound
// on allocated capacity matters more than constant-time dequeues.
type Store interface {
	// Append adds a request at the tail.
	Append(r Request)
	// Peek returns the head request without removing it.
	Peek() (Request, bool)
	// Drop removes the head request. Requests before the head are
	// logically deleted and never revisited.
	Drop()
	// Len returns the count of pending requests from head to tail.
	Len() int
}

// IndexedStore is the head/tail-indexed associative store.
type IndexedStore struct {
	entries map[uint64]Request
	head    uint64
	tail    uint64
}

func NewIndexedStore() *IndexedStore {
	return &IndexedStore{
		entries: make(map[uint64]Request),
	}
}

func (s *IndexedStore) Append(r Request) {
	s.entries[s.tail] = r
	s.tail++
}

func (s *IndexedStore) Peek() (Request, bool) {
	if s.head == s.tail {
		return Request{}, false
	}
	return s.entries[s.head], true
}

func (s *IndexedStore) Drop() {
	if s.head == s.tail {
		return
	}
	delete(s.entries, s.head)
	s.head++
}

func (s *IndexedStore) Len() int {
	return int(s.tail - s.head)
}

// CompactingStore is the append-only slice store with periodic
// compaction.
type CompactingStore struct {
	entries []Request
	head    int
}

func NewCompactingStore() *CompactingStore {
	return &CompactingStore{}
}

func (s *CompactingStore) Append(r Request) {
	s.entries = append(s.entries, r)
}

func (s *CompactingStore) Peek() (Request, bool) {
	if s.head >= len(s.entries) {
		return Request{}, false
	}
	return s.entries[s.head], true
}

func (s *CompactingStore) Drop() {
	if s.head >= len(s.entries) {
		return
	}
	s.entries[s.head] = Request{} // release the amount for GC
	s.head++
	if s.head > len(s.entries)/2 {
		s.compact()
	}
}

func (s *CompactingStore) Len() int {
	return len(s.entries) - s.head
}

// compact shifts the live tail down to index 0 and truncates.
func (s *CompactingStore) compact() {
	n := copy(s.entries, s.entries[s.head:])
	for i := n; i < len(s.entries); i++ {
		s.entries[i] = Request{}
	}
	s.entries = s.entries[:n]
	s.head = 0
}

// Cap exposes the allocated capacity, for the compaction tests.
func (s *CompactingStore) Cap() int {
	return cap(s.entries)
}
