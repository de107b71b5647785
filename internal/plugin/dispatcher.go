package plugin

import (
	"context"
	"log"
	"sync"
)

// DefaultQueueSize is how many events may wait for plugins before new ones
// are dropped.
const DefaultQueueSize = 64

// Dispatcher delivers events to subscribed plugins on a single background
// worker, in the order they were dispatched. The frame loop never waits on a
// plugin.
type Dispatcher struct {
	manager  *Manager
	executor *Executor

	mu      sync.Mutex
	queue   chan Request
	closed  bool
	dropped int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher starts a dispatcher. queueSize <= 0 uses DefaultQueueSize.
func NewDispatcher(manager *Manager, executor *Executor, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		manager:  manager,
		executor: executor,
		queue:    make(chan Request, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch queues req for every plugin subscribed to req.Event. It returns
// false if the queue is full or the dispatcher is closed.
func (d *Dispatcher) Dispatch(req Request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	select {
	case d.queue <- req:
		return true
	default:
		d.dropped++
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops accepting events, delivers the queued ones and waits for the
// worker to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Abort is Close without delivering what is still queued. A running plugin
// is killed.
func (d *Dispatcher) Abort() {
	d.cancel()
	d.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer d.cancel()

	for req := range d.queue {
		if d.ctx.Err() != nil {
			continue
		}
		for _, p := range d.manager.ForEvent(req.Event) {
			d.deliver(p, req)
		}
	}
}

func (d *Dispatcher) deliver(p *Plugin, req Request) {
	req.Config = p.Manifest.Config
	resp, err := d.executor.Execute(d.ctx, p, &req)
	if err != nil {
		log.Printf("Plugin %s failed on %s: %v", p.Manifest.Name, req.Event, err)
		return
	}
	if !resp.Success {
		log.Printf("Plugin %s rejected %s: %s", p.Manifest.Name, req.Event, resp.Error)
	}
}
