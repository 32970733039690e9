// Package worker bridges the blocking wire I/O of a *client.Association to
// the asynchronous goroutines that drive the DICOMweb façades. One Worker
// owns exactly one Association and runs a dedicated goroutine executing a
// blocking command loop against it; everything else talks to the
// association only through the Worker's mailbox, so association state is
// never touched concurrently.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicomweb-dimse/bridge/client"
	dicomerrors "github.com/dicomweb-dimse/bridge/errors"
)

// Task is a unit of work executed against the owned association on the
// worker goroutine. It must not retain the *client.Association beyond its
// own invocation.
type Task func(a *client.Association) (any, error)

type job struct {
	task  Task
	reply chan result
}

type result struct {
	value any
	err   error
}

// Worker owns one association and a capacity-1 mailbox of jobs.
type Worker struct {
	assoc   *client.Association
	mailbox chan job
	done    chan struct{}
	logger  *zerolog.Logger
}

// New starts a Worker goroutine for assoc. Call Close to stop it and
// release the association.
func New(assoc *client.Association, logger *zerolog.Logger) *Worker {
	if logger == nil {
		logger = &log.Logger
	}
	w := &Worker{
		assoc:   assoc,
		mailbox: make(chan job, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for j := range w.mailbox {
		v, err := j.task(w.assoc)
		j.reply <- result{value: v, err: err}
	}
	// Mailbox closed: best-effort teardown of the association.
	if err := w.assoc.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("association close on worker shutdown")
	}
}

// Execute submits task to the worker and blocks for its result, subject to
// ctx's deadline. A timeout or cancellation returns a ChannelError-style
// TimeoutError; the caller must treat the association as poisoned and
// Close the worker rather than reuse it, per the round-trip contract.
func (w *Worker) Execute(ctx context.Context, task Task) (any, error) {
	reply := make(chan result, 1)
	select {
	case w.mailbox <- job{task: task, reply: reply}:
	case <-ctx.Done():
		return nil, dicomerrors.NewTimeoutError("mailbox send", ctxErrString(ctx))
	case <-w.done:
		return nil, fmt.Errorf("worker: association closed")
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, dicomerrors.NewTimeoutError("mailbox reply", ctxErrString(ctx))
	}
}

// Close shuts the mailbox down, which causes the worker goroutine to close
// the association and exit. Close is idempotent.
func (w *Worker) Close() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.mailbox)
	<-w.done
}

func ctxErrString(ctx context.Context) string {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl).String()
	}
	return "cancelled"
}
