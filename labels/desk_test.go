package labels

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu      sync.Mutex
	events  []string
	batches int
	printed []Job
}

func (e *recordingEmitter) EmitBatchGenerated(codes []Code) {
	e.mu.Lock()
	e.batches++
	e.events = append(e.events, "batch")
	e.mu.Unlock()
}

func (e *recordingEmitter) EmitScopeChanged(from, to Scope) {
	e.mu.Lock()
	e.events = append(e.events, from.String()+"->"+to.String())
	e.mu.Unlock()
}

func (e *recordingEmitter) EmitPrinted(job Job, err error) {
	e.mu.Lock()
	e.events = append(e.events, "printed")
	e.printed = append(e.printed, job)
	e.mu.Unlock()
}

func (e *recordingEmitter) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func newTestDesk(t *testing.T, p Printer, em EventEmitter) *Desk {
	t.Helper()
	d := NewDesk(p, em, Options{Source: rand.NewPCG(3, 4), RenderDelay: time.Millisecond})
	_, err := d.Generate(5)
	require.NoError(t, err)
	return d
}

func TestPrintOneOnlyIndexVisibleAtPrintTime(t *testing.T) {
	var d *Desk
	var scopeAtPrint Scope
	var sheetAtPrint []Label
	d = newTestDesk(t, FuncPrinter(func(ctx context.Context, job Job) error {
		scopeAtPrint = d.Scope()
		sheetAtPrint = d.Sheet()
		return nil
	}), nil)

	job, err := d.PrintOne(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, Single(2), scopeAtPrint)
	require.Len(t, sheetAtPrint, 5)
	for _, l := range sheetAtPrint {
		assert.Equal(t, l.Index == 2, l.Visible, "label %d", l.Index)
	}
	require.Len(t, job.Printed(), 1)
	assert.Equal(t, d.Batch()[2], job.Printed()[0].Code)
	assert.Len(t, job.Labels, 5, "hidden labels stay on the sheet")

	assert.Equal(t, NoScope, d.Scope())
}

func TestPrintAllEveryLabelVisible(t *testing.T) {
	var d *Desk
	var sheetAtPrint []Label
	d = newTestDesk(t, FuncPrinter(func(ctx context.Context, job Job) error {
		sheetAtPrint = d.Sheet()
		return nil
	}), nil)

	job, err := d.PrintAll(context.Background())
	require.NoError(t, err)
	for _, l := range sheetAtPrint {
		assert.True(t, l.Visible)
	}
	assert.Len(t, job.Printed(), 5)
	assert.Equal(t, NoScope, d.Scope())
}

func TestPrintOneOutOfRange(t *testing.T) {
	called := false
	em := &recordingEmitter{}
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error {
		called = true
		return nil
	}), em)

	for _, i := range []int{-1, 5, 99} {
		_, err := d.PrintOne(context.Background(), i)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}
	assert.False(t, called)
	assert.Equal(t, NoScope, d.Scope())
	assert.Equal(t, []string{"batch"}, em.Events())
}

func TestScopeChangesBracketThePrint(t *testing.T) {
	em := &recordingEmitter{}
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error { return nil }), em)

	_, err := d.PrintOne(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch", "none->single(0)", "printed", "single(0)->none"}, em.Events())
}

func TestPrinterErrorStillResetsScope(t *testing.T) {
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error { return errors.New("no printer") }), nil)

	_, err := d.PrintAll(context.Background())
	assert.EqualError(t, err, "no printer")
	assert.Equal(t, NoScope, d.Scope())

	// The desk is usable again
	_, err = d.PrintAll(context.Background())
	assert.EqualError(t, err, "no printer")
}

func TestCancelDuringRenderDelay(t *testing.T) {
	called := false
	d := NewDesk(FuncPrinter(func(context.Context, Job) error {
		called = true
		return nil
	}), nil, Options{RenderDelay: time.Hour})
	_, err := d.Generate(3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.PrintAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, NoScope, d.Scope())
}

func TestConcurrentPrintRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error {
		close(entered)
		<-release
		return nil
	}), nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.PrintAll(context.Background())
		errCh <- err
	}()
	<-entered

	_, err := d.PrintOne(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPrintInProgress)
	_, err = d.Regenerate()
	assert.ErrorIs(t, err, ErrPrintInProgress)

	close(release)
	require.NoError(t, <-errCh)
}

func TestRegenerateKeepsSizeAndResets(t *testing.T) {
	em := &recordingEmitter{}
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error { return nil }), em)
	before := d.Batch()

	after, err := d.Regenerate()
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.NotEqual(t, before, after)
	assert.Equal(t, after, d.Batch())
	assert.Equal(t, NoScope, d.Scope())
	assert.Equal(t, 2, em.batches)
}

func TestGenerateLimits(t *testing.T) {
	d := NewDesk(FuncPrinter(func(context.Context, Job) error { return nil }), nil, Options{})
	_, err := d.Generate(MaxBatch + 1)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	_, err = d.Generate(-1)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	_, err = d.PrintAll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestBatchIsACopy(t *testing.T) {
	d := newTestDesk(t, FuncPrinter(func(context.Context, Job) error { return nil }), nil)
	b := d.Batch()
	b[0] = "Z00000Z"
	assert.NotEqual(t, Code("Z00000Z"), d.Batch()[0])
}
