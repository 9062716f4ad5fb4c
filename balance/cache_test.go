package balance

import (
	"testing"

	"github.com/pkt-cash/pktd/btcutil/er"
)

type fakeStore struct {
	balances map[string]int64
	height   int32
	updates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{balances: map[string]int64{}, height: -1}
}

func (f *fakeStore) Get(address string, def int64) (int64, er.R) {
	if v, ok := f.balances[address]; ok {
		return v, nil
	}
	return def, nil
}

func (f *fakeStore) GetBulk(addrs []string) (map[string]int64, er.R) {
	out := make(map[string]int64, len(addrs))
	for _, a := range addrs {
		if v, ok := f.balances[a]; ok {
			out[a] = v
		}
	}
	return out, nil
}

func (f *fakeStore) Update(insert, update map[string]int64, del map[string]struct{}, height int32) er.R {
	f.updates++
	for a, v := range insert {
		f.balances[a] = v
	}
	for a, v := range update {
		f.balances[a] = v
	}
	for a := range del {
		delete(f.balances, a)
	}
	f.height = height
	return nil
}

func (f *fakeStore) Height() (int32, er.R) {
	return f.height, nil
}

func TestCacheGetLoadsBaseline(t *testing.T) {
	s := newFakeStore()
	s.balances["A"] = 500
	c, err := NewCache(10, s)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	v, err := c.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 500 {
		t.Fatalf("expected 500, got %d", v)
	}
}

func TestCacheGetReflectsPendingDelta(t *testing.T) {
	s := newFakeStore()
	s.balances["A"] = 100
	c, _ := NewCache(10, s)
	c.Update("A", 50)
	v, err := c.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 150 {
		t.Fatalf("expected 150, got %d", v)
	}
}

func TestCacheUpdateZeroDeltaRemovesEntry(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	c.Update("A", 10)
	c.Update("A", -10)
	if c.PendingLen() != 0 {
		t.Fatalf("expected pending to be empty, got %d entries", c.PendingLen())
	}
}

func TestCacheCommitClassifiesInsertUpdateDelete(t *testing.T) {
	s := newFakeStore()
	s.balances["existing"] = 100
	c, _ := NewCache(10, s)

	c.Update("brandnew", 25)      // baseline 0 -> insert
	c.Update("existing", 50)      // baseline 100 -> update to 150
	c.Update("existing", -150)    // existing + 50 - 150 = 0 -> delete
	c.Update("vanish", 10)
	c.Update("vanish", -10)       // nets to 0, so the entry is dropped from pending

	if err := c.Commit(10); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if v := s.balances["brandnew"]; v != 25 {
		t.Fatalf("expected brandnew == 25, got %d", v)
	}
	if _, ok := s.balances["existing"]; ok {
		t.Fatal("expected existing to have been deleted")
	}
	if s.height != 10 {
		t.Fatalf("expected store height 10, got %d", s.height)
	}
	if c.PendingLen() != 0 {
		t.Fatalf("expected pending drained after commit, got %d", c.PendingLen())
	}
}

func TestCacheCommitNoOpWhenHeightEqualsTip(t *testing.T) {
	s := newFakeStore()
	s.height = 5
	c, _ := NewCache(10, s)
	c.Update("A", 10)
	if err := c.Commit(5); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if s.updates != 0 {
		t.Fatal("expected a same-height commit to be a no-op on the store")
	}
	if c.PendingLen() != 1 {
		t.Fatal("expected the pending delta to survive a no-op commit")
	}
}

func TestCacheGetAfterCommitSeesMergedBase(t *testing.T) {
	s := newFakeStore()
	c, _ := NewCache(10, s)
	c.Update("A", 42)
	if err := c.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, err := c.Get("A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}
