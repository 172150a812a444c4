package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/northpole-faad/faad/internal/faa"
	"github.com/northpole-faad/faad/internal/faevent"
	"github.com/northpole-faad/faad/internal/watchitems"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(); _ = os.Remove(path) })
	return store
}

func TestSQLiteStore_InsertAndList(t *testing.T) {
	store := openStore(t)
	r := &Record{
		ID:         "01",
		Timestamp:  time.Now(),
		AuditToken: "tok-1",
		EventKind:  "OPEN",
		TargetPath: "/etc/passwd",
		RuleName:   "block-passwd",
		Decision:   "Denied",
		PrevHash:   seed,
	}
	r.Hash = computeHash(r)
	if err := store.InsertRecord(r); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	records, err := store.ListRecords(Filter{AuditToken: "tok-1"})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 1 || records[0].ID != "01" {
		t.Fatalf("ListRecords = %+v, want one record with ID 01", records)
	}
}

func TestSQLiteStore_VerifyHashChain(t *testing.T) {
	store := openStore(t)
	prev := seed
	for i := 0; i < 3; i++ {
		r := &Record{
			ID:         string(rune('a' + i)),
			Timestamp:  time.Now().Add(time.Duration(i) * time.Second),
			AuditToken: "tok-1",
			EventKind:  "OPEN",
			TargetPath: "/etc/passwd",
			Decision:   "Denied",
			PrevHash:   prev,
		}
		r.Hash = computeHash(r)
		if err := store.InsertRecord(r); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		prev = r.Hash
	}

	valid, brokenAt, err := store.VerifyHashChain()
	if err != nil {
		t.Fatalf("VerifyHashChain: %v", err)
	}
	if !valid {
		t.Errorf("chain invalid at index %d, want valid", brokenAt)
	}
}

func TestSQLiteStore_VerifyHashChain_DetectsTamper(t *testing.T) {
	store := openStore(t)
	r := &Record{ID: "a", Timestamp: time.Now(), AuditToken: "tok-1", EventKind: "OPEN", TargetPath: "/etc/passwd", Decision: "Denied", PrevHash: seed}
	r.Hash = computeHash(r)
	if err := store.InsertRecord(r); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if _, err := store.db.Exec("UPDATE records SET decision = 'Allowed' WHERE id = 'a'"); err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	valid, brokenAt, err := store.VerifyHashChain()
	if err != nil {
		t.Fatalf("VerifyHashChain: %v", err)
	}
	if valid || brokenAt != 0 {
		t.Errorf("got (valid=%v, brokenAt=%d), want a detected break at index 0", valid, brokenAt)
	}
}

func TestSink_RecordChainsHashes(t *testing.T) {
	store := openStore(t)
	sink := NewSink(store, nil)
	logFn := sink.LogFunc()

	base := watchitems.WatchItemPolicyBase{Name: "block_passwd", Version: "1"}
	policy, err := watchitems.NewDataWatchItemPolicy(base, "/etc/passwd", watchitems.PathLiteral)
	if err != nil {
		t.Fatalf("NewDataWatchItemPolicy: %v", err)
	}

	event := &faevent.Event{
		Kind: faevent.KindOpen,
		Open: &faevent.OpenPayload{File: "/etc/passwd"},
		Process: faevent.ProcessInstigator{AuditToken: "tok-1"},
	}
	target := faevent.Target{AbsolutePath: "/etc/passwd"}

	logFn(event, target, policy, faa.Denied)
	logFn(event, target, policy, faa.Denied)

	valid, brokenAt, err := store.VerifyHashChain()
	if err != nil {
		t.Fatalf("VerifyHashChain: %v", err)
	}
	if !valid {
		t.Errorf("chain invalid at index %d after two Sink.record calls", brokenAt)
	}
}
