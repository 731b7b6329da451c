// Package runner executes one batch of the ticket lifecycle: fetch the
// pending descriptors, apply each one, and sweep expired tickets.
// Descriptors are processed sequentially and in isolation; one bad
// descriptor never blocks the rest of the batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/opendachs/ticketd/internal/intake"
	"github.com/opendachs/ticketd/internal/models"
	"github.com/opendachs/ticketd/internal/ticket"
	"github.com/opendachs/ticketd/internal/webrecorder"
)

// ErrBatchActive is returned when a run starts while the previous batch
// is still in flight. Batches must not overlap: a second run would
// re-read descriptors the first has not yet acknowledged.
var ErrBatchActive = errors.New("batch already running")

// Stats counts the outcomes of one batch run.
type Stats struct {
	Submitted int
	Confirmed int
	Accepted  int
	Denied    int
	Expired   int
	Failed    int
}

// Runner drives batches through the lifecycle manager.
type Runner struct {
	source   intake.Source
	manager  *ticket.Manager
	recorder *webrecorder.Client
	timeout  time.Duration
	logger   *log.Logger
	metrics  *batchMetrics
	running  sync.Mutex
}

// New wires a batch runner. The timeout bounds the work done for one
// descriptor, capture included.
func New(source intake.Source, manager *ticket.Manager, recorder *webrecorder.Client, timeout time.Duration, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{
		source:   source,
		manager:  manager,
		recorder: recorder,
		timeout:  timeout,
		logger:   logger,
		metrics:  globalBatchMetrics(),
	}
}

// Run processes the current intake batch and then sweeps expired
// tickets. Only an unreachable intake source or an overlapping run
// fails the batch.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	if !r.running.TryLock() {
		return Stats{}, ErrBatchActive
	}
	defer r.running.Unlock()

	done := r.metrics.recordRun()
	defer done()

	var stats Stats
	files, err := r.source.Fetch(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch intake batch: %w", err)
	}
	r.logger.Printf("processing %d descriptor(s)", len(files))

	for i := range files {
		r.processFile(ctx, &files[i], &stats)
	}
	r.sweep(ctx, &stats)

	r.logger.Printf("batch done: %d submitted, %d confirmed, %d accepted, %d denied, %d expired, %d failed",
		stats.Submitted, stats.Confirmed, stats.Accepted, stats.Denied, stats.Expired, stats.Failed)
	return stats, nil
}

func (r *Runner) processFile(ctx context.Context, file *intake.File, stats *Stats) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	d, err := models.ParseDescriptor(file.Data)
	if err != nil {
		r.fail(ctx, file.Name, "", err, stats)
		r.ack(file)
		return
	}

	tk, err := r.dispatch(ctx, d)
	if err != nil {
		r.fail(ctx, d.Ticket, d.Email, err, stats)
		r.ack(file)
		return
	}

	if tk.Flag == models.FlagAccepted {
		if err := r.recorder.TriggerIngest(ctx, tk.ID); err != nil {
			r.logger.Printf("ticket %s: %v", tk.ID, err)
		}
	}
	r.manager.Notify(ctx, tk)
	r.count(tk.Flag, stats)
	r.ack(file)
}

// dispatch maps the requested flag to its lifecycle operation. The
// submitted and expired flags only ever appear on stored records, never
// as a request.
func (r *Runner) dispatch(ctx context.Context, d *models.Descriptor) (*models.Ticket, error) {
	switch d.Flag {
	case models.FlagPending:
		return r.manager.Submit(ctx, d)
	case models.FlagConfirmed:
		return r.manager.Confirm(ctx, d)
	case models.FlagAccepted:
		return r.manager.Accept(ctx, d)
	case models.FlagDenied:
		return r.manager.Deny(ctx, d)
	}
	return nil, fmt.Errorf("descriptor %s: flag %q cannot be requested", d.Ticket, d.Flag)
}

func (r *Runner) sweep(ctx context.Context, stats *Stats) {
	expired, err := r.manager.Expire(ctx)
	if err != nil {
		r.logger.Printf("expiry sweep: %v", err)
		return
	}
	for _, tk := range expired {
		r.manager.Notify(ctx, tk)
		stats.Expired++
		r.metrics.recordOutcome(string(models.FlagExpired))
	}
}

func (r *Runner) fail(ctx context.Context, ticketID, recipient string, cause error, stats *Stats) {
	r.logger.Printf("descriptor %s: %v", ticketID, cause)
	r.manager.NotifyError(ctx, ticketID, recipient, cause)
	stats.Failed++
	r.metrics.recordOutcome("failed")
}

func (r *Runner) count(flag models.Flag, stats *Stats) {
	switch flag {
	case models.FlagSubmitted:
		stats.Submitted++
	case models.FlagConfirmed:
		stats.Confirmed++
	case models.FlagAccepted:
		stats.Accepted++
	case models.FlagDenied:
		stats.Denied++
	}
	r.metrics.recordOutcome(string(flag))
}

func (r *Runner) ack(file *intake.File) {
	if err := file.Ack(); err != nil {
		r.logger.Printf("descriptor %s: acknowledge: %v", file.Name, err)
	}
}
