package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"roadworks-hub/core/store"
)

type memAudit struct {
	mu   sync.Mutex
	recs []store.AuditRecord
	err  error
}

func (m *memAudit) Log(_ context.Context, rec store.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memAudit) List(context.Context, int) ([]store.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord(nil), m.recs...), nil
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	mem := &memAudit{}
	d := NewDispatcher(mem, 8, nil)
	d.Record("auth.login", "identity", "u-1", "a@example.com", "backend=local")
	d.Record("auth.login", "identity", "u-2", "b@example.com", "backend=remote")
	d.Close()
	recs, _ := mem.List(context.Background(), 0)
	if len(recs) != 2 || recs[0].EntityID != "u-1" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	d.Record("ignored", "", "", "", "")
	if recs, _ := mem.List(context.Background(), 0); len(recs) != 2 {
		t.Fatalf("record after close must be ignored")
	}
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	mem := &memAudit{err: errors.New("disk full")}
	d := NewDispatcher(mem, 4, nil)
	d.Record("sync.push", "report", "1", "", "")
	d.Close()
	if d.Failed() != 1 {
		t.Fatalf("expected one failed write, got %d", d.Failed())
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Record("x", "y", "z", "", "")
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("nil dispatcher must report zero")
	}
}
