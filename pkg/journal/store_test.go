package journal

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "journal"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.Now = func() int64 { return 1000 }
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndFlushPersistsRecords(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("Deposit", map[string]interface{}{"user": "0xabc", "amount": int64(500)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("Withdraw", map[string]interface{}{"user": "0xabc", "amount": int64(200)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var events []Event
	if err := s.Replay(func(ev Event) error {
		events = append(events, ev)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 replayed events, got %d", len(events))
	}
	if events[0].Kind != "Deposit" || events[0].Seq != 0 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != "Withdraw" || events[1].Seq != 1 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func TestAppendKeepsLedgerBalanced(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("Deposit", map[string]interface{}{"user": "0xabc", "amount": int64(500)}); err != nil {
		t.Fatalf("append deposit: %v", err)
	}
	if err := s.Append("Withdraw", map[string]interface{}{"user": "0xabc", "amount": int64(200)}); err != nil {
		t.Fatalf("append withdraw: %v", err)
	}
	if err := s.Ledger.VerifyBalance(); err != nil {
		t.Fatalf("ledger out of balance: %v", err)
	}
	if got := s.Ledger.Balance(customerAccount("0xabc")); got != 300 {
		t.Fatalf("want customer balance 300, got %d", got)
	}
}

func TestGroupCommitFlushesAutomatically(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < groupCommitSize; i++ {
		if err := s.Append("OrderSubmitted", map[string]interface{}{"seq": int64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending != 0 {
		t.Fatalf("want batch auto-flushed at group commit size, got %d pending", pending)
	}

	var count int
	if err := s.Replay(func(Event) error { count++; return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != groupCommitSize {
		t.Fatalf("want %d persisted records, got %d", groupCommitSize, count)
	}
}

func TestReopenRecoversSequenceCounter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s1.Now = func() int64 { return 1 }
	if err := s1.Append("Deposit", map[string]interface{}{"user": "0xabc", "amount": int64(10)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	s2.Now = func() int64 { return 2 }
	if err := s2.Append("Deposit", map[string]interface{}{"user": "0xabc", "amount": int64(20)}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if err := s2.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var seqs []uint32
	if err := s2.Replay(func(ev Event) error { seqs = append(seqs, ev.Seq); return nil }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 1 {
		t.Fatalf("want sequential seqs [0 1], got %v", seqs)
	}
}
