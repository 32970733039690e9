// Package assocpool maintains a bounded set of warm outbound DICOM
// associations, keyed by the calling/called AE title pair and remote
// address. Associations are expensive to negotiate (a full A-ASSOCIATE
// round trip) so the pool keeps a small LIFO free list per key and
// recycles an idle association with a C-ECHO before handing it back out,
// falling back to a fresh Connect when recycling fails. Every pooled
// association is owned by a worker.Worker so SCU calls issued through a
// Lease get context-based timeouts even though *client.Association's own
// methods are blocking and take no context.
package assocpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicomweb-dimse/bridge/client"
	dicomerrors "github.com/dicomweb-dimse/bridge/errors"
	"github.com/dicomweb-dimse/bridge/metrics"
	"github.com/dicomweb-dimse/bridge/worker"
)

// Key identifies a distinct pool of associations: one physical peer
// reached under one pair of AE titles.
type Key struct {
	CallingAET string
	CalledAET  string
	Address    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s->%s@%s", k.CallingAET, k.CalledAET, k.Address)
}

// Options configures a Pool.
type Options struct {
	// MaxPerKey bounds the number of associations concurrently open to a
	// single Key, including ones currently checked out. Zero means 4.
	MaxPerKey int
	// AcquireTimeout bounds how long Acquire waits for a slot. Zero means
	// no timeout beyond ctx.
	AcquireTimeout time.Duration
	// IdleTimeout is how long a free association may sit in the free
	// list before Acquire discards it instead of recycling it. Zero
	// means 5 minutes.
	IdleTimeout time.Duration
	// RecycleTimeout bounds the C-ECHO used to probe a free association
	// before handing it back out. Zero means 5 seconds.
	RecycleTimeout time.Duration
	// Dial builds a fresh association for a Key. Required.
	Dial   func(ctx context.Context, key Key) (*client.Association, error)
	Logger *zerolog.Logger
}

type entry struct {
	w      *worker.Worker
	id     string
	idleAt time.Time
}

type bucket struct {
	mu   sync.Mutex
	free []*entry
	sem  chan struct{}
}

// Pool is safe for concurrent use.
type Pool struct {
	opts    Options
	logger  *zerolog.Logger
	mu      sync.Mutex
	buckets map[Key]*bucket
}

// New creates a Pool. opts.Dial must be set.
func New(opts Options) *Pool {
	if opts.MaxPerKey <= 0 {
		opts.MaxPerKey = 4
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.RecycleTimeout <= 0 {
		opts.RecycleTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	return &Pool{
		opts:    opts,
		logger:  logger,
		buckets: make(map[Key]*bucket),
	}
}

func (p *Pool) bucketFor(key Key) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{sem: make(chan struct{}, p.opts.MaxPerKey)}
		p.buckets[key] = b
	}
	return b
}

// Lease is a checked-out association, reachable only through its worker's
// mailbox. Call Release to return it to the pool, or Discard if a
// mailbox round trip errored (the association must then be treated as
// poisoned, per the worker's timeout contract) so the pool doesn't
// recycle it.
type Lease struct {
	pool *Pool
	key  Key
	bkt  *bucket
	w    *worker.Worker
	id   string
	done bool
}

// ID is the association's correlation id, stable across checkouts for as
// long as the underlying association lives. It appears in pool and worker
// log lines so one association's activity can be traced end to end.
func (l *Lease) ID() string { return l.id }

// Worker returns the mailbox for the leased association. Every SCU
// operation should go through Worker().Execute so it inherits a context
// deadline instead of blocking indefinitely.
func (l *Lease) Worker() *worker.Worker { return l.w }

// Release returns the association to the free list for its key.
func (l *Lease) Release() {
	if l.done {
		return
	}
	l.done = true
	l.bkt.mu.Lock()
	l.bkt.free = append(l.bkt.free, &entry{w: l.w, id: l.id, idleAt: time.Now()})
	l.bkt.mu.Unlock()
	<-l.bkt.sem
	metrics.PoolLeasesInUse.WithLabelValues(l.key.String()).Dec()
	metrics.PoolIdle.WithLabelValues(l.key.String()).Inc()
}

// Discard closes the association's worker (which in turn closes the
// association) and frees its pool slot without returning it to the free
// list.
func (l *Lease) Discard() {
	if l.done {
		return
	}
	l.done = true
	l.w.Close()
	<-l.bkt.sem
	metrics.PoolLeasesInUse.WithLabelValues(l.key.String()).Dec()
}

// Acquire obtains an association for key, recycling a free one with a
// C-ECHO when available and still fresh, or dialing a new one otherwise.
// Acquire blocks until a pool slot is available, ctx is done, or
// opts.AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context, key Key) (*Lease, error) {
	b := p.bucketFor(key)

	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.opts.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	select {
	case b.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, dicomerrors.NewPoolTimeoutError("acquire " + key.String())
	}

	for {
		b.mu.Lock()
		n := len(b.free)
		if n == 0 {
			b.mu.Unlock()
			break
		}
		e := b.free[n-1]
		b.free = b.free[:n-1]
		b.mu.Unlock()
		metrics.PoolIdle.WithLabelValues(key.String()).Dec()

		if time.Since(e.idleAt) > p.opts.IdleTimeout {
			e.w.Close()
			continue
		}

		recycleCtx, recycleCancel := context.WithTimeout(ctx, p.opts.RecycleTimeout)
		_, err := e.w.Execute(recycleCtx, func(a *client.Association) (any, error) {
			return a.SendCEcho(0)
		})
		recycleCancel()
		if err != nil {
			p.logger.Debug().Str("key", key.String()).Str("association_id", e.id).Err(err).
				Msg("discarding stale association on recycle failure")
			e.w.Close()
			continue
		}
		metrics.PoolLeasesInUse.WithLabelValues(key.String()).Inc()
		return &Lease{pool: p, key: key, bkt: b, w: e.w, id: e.id}, nil
	}

	assoc, err := p.opts.Dial(acquireCtx, key)
	if err != nil {
		<-b.sem
		return nil, dicomerrors.NewPoolError("dial "+key.String(), err)
	}
	id := uuid.NewString()
	metrics.AssociationsDialed.WithLabelValues(key.String()).Inc()
	metrics.PoolLeasesInUse.WithLabelValues(key.String()).Inc()
	p.logger.Debug().Str("key", key.String()).Str("association_id", id).Msg("dialed fresh association")
	w := worker.New(assoc, p.logger)
	return &Lease{pool: p, key: key, bkt: b, w: w, id: id}, nil
}

// Close closes every idle association held by the pool. In-flight leases
// are unaffected; release or discard them normally.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, b := range p.buckets {
		b.mu.Lock()
		for _, e := range b.free {
			e.w.Close()
			metrics.PoolIdle.WithLabelValues(key.String()).Dec()
		}
		b.free = nil
		b.mu.Unlock()
	}
	return nil
}
