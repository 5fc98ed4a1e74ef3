// Package reconcile brings tenant device copies back in line with the admin
// copy after a failed tenant write. The admin copy is authoritative.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Locker      lock.Locker
	// OnQueue is called with the queue depth whenever it changes
	OnQueue func(depth int)
}

type task struct {
	staleEngine string
	attempts    int
}

type Reconciler struct {
	devices repository.DeviceRepository
	opts    Options

	mu    sync.Mutex
	queue map[string]*task

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(devices repository.DeviceRepository, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	return &Reconciler{
		devices: devices,
		opts:    opts,
		queue:   map[string]*task{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules deviceID for re-sync. staleEngine, when set, names an
// engine whose copy of the device must go away.
func (r *Reconciler) Enqueue(deviceID, staleEngine string) {
	r.mu.Lock()
	t, ok := r.queue[deviceID]
	if !ok {
		t = &task{}
		r.queue[deviceID] = t
	}
	if staleEngine != "" {
		t.staleEngine = staleEngine
	}
	depth := len(r.queue)
	r.mu.Unlock()

	nuts.L.Warnf("[Reconciler] Queued device %s for tenant copy reconciliation", deviceID)
	r.notify(depth)
}

func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reconciler) notify(depth int) {
	if r.opts.OnQueue != nil {
		r.opts.OnQueue(depth)
	}
}

// Reconcile re-syncs one device now, holding its lock
func (r *Reconciler) Reconcile(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	stale := ""
	if t, ok := r.queue[deviceID]; ok {
		stale = t.staleEngine
	}
	r.mu.Unlock()

	unlock, err := r.opts.Locker.Lock(ctx, lock.DeviceKey(deviceID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.sync(ctx, deviceID, stale); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.queue, deviceID)
	depth := len(r.queue)
	r.mu.Unlock()
	r.notify(depth)
	return nil
}

func (r *Reconciler) sync(ctx context.Context, deviceID, staleEngine string) error {
	device, err := r.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.IsNotFound(err) && staleEngine != "" {
			return r.dropCopy(ctx, staleEngine, deviceID)
		}
		return err
	}
	if staleEngine != "" && staleEngine != device.EngineID {
		if err := r.dropCopy(ctx, staleEngine, deviceID); err != nil {
			return err
		}
	}
	if device.EngineID == "" {
		return nil
	}
	return r.devices.PutTenant(ctx, device.EngineID, device)
}

func (r *Reconciler) dropCopy(ctx context.Context, engineID, deviceID string) error {
	err := r.devices.DeleteTenant(ctx, engineID, deviceID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

// Start runs passes every interval until Stop
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

func (r *Reconciler) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.RunOnce(context.Background())
		}
	}
}

// RunOnce attempts every queued device once
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.queue))
	for id := range r.queue {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		err := r.Reconcile(ctx, id)
		if err == nil {
			nuts.L.Infof("[Reconciler] Device %s tenant copy reconciled", id)
			continue
		}
		r.mu.Lock()
		t, ok := r.queue[id]
		giveUp := false
		if ok {
			t.attempts++
			if t.attempts >= r.opts.MaxAttempts {
				delete(r.queue, id)
				giveUp = true
			}
		}
		depth := len(r.queue)
		r.mu.Unlock()

		if giveUp {
			nuts.L.Errorf("[Reconciler] Giving up on device %s after %d attempts: %v", id, r.opts.MaxAttempts, err)
			r.notify(depth)
		} else {
			nuts.L.Warnf("[Reconciler] Device %s not reconciled yet: %v", id, err)
		}
	}
}

// Stop ends the periodic passes and runs a last one
func (r *Reconciler) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		close(r.stop)
		// never started: nothing to wait for
		r.startOnce.Do(func() { close(r.done) })
		select {
		case <-r.done:
		case <-ctx.Done():
			return
		}
		r.RunOnce(ctx)
	})
}
