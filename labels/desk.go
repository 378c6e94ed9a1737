// Package labels generates batches of label codes and drives the print-scope
// state machine that decides which labels appear on the next print.
package labels

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tiximax/logging"
)

// MaxBatch is the largest batch a desk will generate.
const MaxBatch = 1000

var (
	ErrIndexOutOfRange  = errors.New("labels: index out of range")
	ErrEmptyBatch       = errors.New("labels: no labels to print")
	ErrPrintInProgress  = errors.New("labels: print already in progress")
	ErrInvalidBatchSize = fmt.Errorf("labels: batch size must be between 0 and %d", MaxBatch)
)

// Label is one entry on the sheet. Hidden labels stay on the sheet and are
// suppressed from printed output only.
type Label struct {
	Index   int  `json:"index"`
	Code    Code `json:"code"`
	Visible bool `json:"visible"`
}

// Job is what a Printer receives.
type Job struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// Printed returns the print-visible labels of the job.
func (j Job) Printed() []Label {
	out := make([]Label, 0, len(j.Labels))
	for _, l := range j.Labels {
		if l.Visible {
			out = append(out, l)
		}
	}
	return out
}

// Printer hands a job to the host print facility.
type Printer interface {
	Print(ctx context.Context, job Job) error
}

// FuncPrinter adapts a function to Printer.
type FuncPrinter func(ctx context.Context, job Job) error

func (f FuncPrinter) Print(ctx context.Context, job Job) error { return f(ctx, job) }

// EventEmitter is the interface the desk uses to announce changes.
type EventEmitter interface {
	EmitBatchGenerated(codes []Code)
	EmitScopeChanged(from, to Scope)
	EmitPrinted(job Job, err error)
}

// Options configures a Desk.
type Options struct {
	Unique      bool
	RenderDelay time.Duration
	Source      rand.Source
	Logger      *zap.Logger
}

// Desk holds the current batch and its print scope.
type Desk struct {
	gen         *Generator
	printer     Printer
	emitter     EventEmitter
	renderDelay time.Duration
	log         *zap.Logger

	mu       sync.Mutex
	batch    []Code
	scope    Scope
	printing bool
}

// NewDesk creates a desk with an empty batch. emitter may be nil.
func NewDesk(printer Printer, emitter EventEmitter, opts Options) *Desk {
	return &Desk{
		gen:         NewGenerator(opts.Source, opts.Unique),
		printer:     printer,
		emitter:     emitter,
		renderDelay: opts.RenderDelay,
		log:         logging.OrNop(opts.Logger).Named("labels"),
		batch:       []Code{},
	}
}

// Generate replaces the batch with count fresh codes and resets the scope.
func (d *Desk) Generate(count int) ([]Code, error) {
	if count < 0 || count > MaxBatch {
		return nil, ErrInvalidBatchSize
	}
	codes := d.gen.GenerateBatch(count)

	d.mu.Lock()
	if d.printing {
		d.mu.Unlock()
		return nil, ErrPrintInProgress
	}
	d.batch = codes
	old := d.scope
	d.scope = NoScope
	d.mu.Unlock()

	d.log.Debug("batch generated", zap.Int("count", count))
	if d.emitter != nil {
		if old != NoScope {
			d.emitter.EmitScopeChanged(old, NoScope)
		}
		d.emitter.EmitBatchGenerated(copyCodes(codes))
	}
	return copyCodes(codes), nil
}

// Regenerate discards the batch and generates one of the same size.
func (d *Desk) Regenerate() ([]Code, error) {
	d.mu.Lock()
	n := len(d.batch)
	d.mu.Unlock()
	return d.Generate(n)
}

// Batch returns a copy of the current codes.
func (d *Desk) Batch() []Code {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyCodes(d.batch)
}

// Scope returns the current print scope.
func (d *Desk) Scope() Scope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scope
}

// Sheet returns every label with its print visibility under the current
// scope.
func (d *Desk) Sheet() []Label {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sheet(d.batch, d.scope)
}

func sheet(batch []Code, scope Scope) []Label {
	out := make([]Label, len(batch))
	for i, c := range batch {
		out[i] = Label{Index: i, Code: c, Visible: scope.Includes(i)}
	}
	return out
}

// PrintAll scopes every label and prints.
func (d *Desk) PrintAll(ctx context.Context) (Job, error) {
	return d.print(ctx, AllScope)
}

// PrintOne scopes the label at index and prints. An index outside the
// batch returns ErrIndexOutOfRange and leaves the scope unchanged.
func (d *Desk) PrintOne(ctx context.Context, index int) (Job, error) {
	return d.print(ctx, Single(index))
}

// print sets the scope, lets the sheet render for the render delay, hands
// the job to the printer and resets the scope to none.
func (d *Desk) print(ctx context.Context, scope Scope) (Job, error) {
	d.mu.Lock()
	switch {
	case d.printing:
		d.mu.Unlock()
		return Job{}, ErrPrintInProgress
	case len(d.batch) == 0:
		d.mu.Unlock()
		return Job{}, ErrEmptyBatch
	case scope.Kind == ScopeSingle && (scope.Index < 0 || scope.Index >= len(d.batch)):
		d.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, scope.Index, len(d.batch))
	}
	old := d.scope
	d.scope = scope
	d.printing = true
	job := Job{
		ID:        uuid.NewString(),
		Scope:     scope,
		Labels:    sheet(d.batch, scope),
		CreatedAt: time.Now(),
	}
	d.mu.Unlock()

	if d.emitter != nil {
		d.emitter.EmitScopeChanged(old, scope)
	}
	defer d.reset(scope)

	if d.renderDelay > 0 {
		timer := time.NewTimer(d.renderDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return job, ctx.Err()
		}
	}

	err := d.printer.Print(ctx, job)
	if err != nil {
		d.log.Warn("print failed", zap.String("job", job.ID), zap.Stringer("scope", scope), zap.Error(err))
	} else {
		d.log.Info("printed", zap.String("job", job.ID), zap.Stringer("scope", scope), zap.Int("labels", len(job.Printed())))
	}
	if d.emitter != nil {
		d.emitter.EmitPrinted(job, err)
	}
	return job, err
}

func (d *Desk) reset(from Scope) {
	d.mu.Lock()
	d.scope = NoScope
	d.printing = false
	d.mu.Unlock()
	if d.emitter != nil {
		d.emitter.EmitScopeChanged(from, NoScope)
	}
}

func copyCodes(in []Code) []Code {
	out := make([]Code, len(in))
	copy(out, in)
	return out
}
