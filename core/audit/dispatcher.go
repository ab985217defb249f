// Package audit delivers audit records to the durable audit log without
// blocking the caller. Delivery failures are logged and dropped.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

const (
	defaultBufferSize = 256
	writeTimeout      = 3 * time.Second
)

// Sink is the narrow contract consumed by the auth router and the reconciler.
type Sink interface {
	Record(action, entityType, entityID, actorEmail, details string)
}

type Dispatcher struct {
	store     store.AuditStore
	logger    *utils.Logger
	ch        chan store.AuditRecord
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(st store.AuditStore, bufferSize int, logger *utils.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	d := &Dispatcher{
		store:  st,
		logger: logger,
		ch:     make(chan store.AuditRecord, bufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case rec := <-d.ch:
			d.write(rec)
		case <-d.done:
			for {
				select {
				case rec := <-d.ch:
					d.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(rec store.AuditRecord) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.store.Log(ctx, rec); err != nil {
		d.failed.Add(1)
		d.logger.Warnf("audit write failed action=%s entity=%s/%s: %v", rec.Action, rec.EntityType, rec.EntityID, err)
	}
}

// Record enqueues a record; when the buffer is full the record is dropped.
func (d *Dispatcher) Record(action, entityType, entityID, actorEmail, details string) {
	if d == nil || d.closed.Load() {
		return
	}
	rec := store.AuditRecord{
		ActorEmail: actorEmail,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case d.ch <- rec:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close drains pending records and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(string, string, string, string, string) {}
