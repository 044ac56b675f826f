package env

import (
	"sync"
)

// transactionSet is the coordinator's live-transaction registry. Membership
// identity is the transaction's sequence number assigned at insertion, not
// its snapshot MetaTree root — two transactions started against the same
// root are distinct members, and a transaction re-inserted after a retry
// (abort-and-restart on conflict) gets a fresh sequence number and sorts as
// newest again: re-insertion after a revert is treated as indistinguishable
// from a brand-new begin.
type transactionSet struct {
	mu      sync.Mutex
	nextSeq int64
	members map[int64]*Transaction // seq -> txn
	order   []int64                 // seq values in insertion order, oldest first
}

func newTransactionSet() *transactionSet {
	return &transactionSet{members: map[int64]*Transaction{}}
}

// add registers txn as live and returns the sequence number assigned to
// this membership (stored on txn.setSeq so remove can find it again).
func (s *transactionSet) add(txn *Transaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	seq := s.nextSeq
	s.members[seq] = txn
	s.order = append(s.order, seq)
	return seq
}

// remove drops the membership identified by seq (a no-op if already
// removed, so double-ending a transaction is harmless).
func (s *transactionSet) remove(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[seq]; !ok {
		return
	}
	delete(s.members, seq)
	for i, v := range s.order {
		if v == seq {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *transactionSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// oldestRoot returns the snapshot MetaTree root still held by the
// longest-live transaction, and whether any transaction is live at all.
// The deferred-task queue uses this to decide which stamped tasks are safe
// to run: a task stamped with root R is safe once the oldest live
// transaction's snapshot root is newer than R.
func (s *transactionSet) oldestRoot() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return 0, false
	}
	oldest := s.members[s.order[0]]
	return oldest.snapshotRoot, true
}

func (s *transactionSet) newestRoot() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return 0, false
	}
	newest := s.members[s.order[len(s.order)-1]]
	return newest.snapshotRoot, true
}

// forEach visits all live transactions in oldest-first order. fn must not
// call back into the transactionSet.
func (s *transactionSet) forEach(fn func(*Transaction)) {
	s.mu.Lock()
	txns := make([]*Transaction, 0, len(s.order))
	for _, seq := range s.order {
		txns = append(txns, s.members[seq])
	}
	s.mu.Unlock()
	for _, t := range txns {
		fn(t)
	}
}
