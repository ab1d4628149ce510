// Package columns computes the text of details-view columns off the session
// goroutine. Requests are queued without bound and answered by a fixed set of
// workers; answers carry the generation they were requested in so a session
// can discard answers for a listing it has since replaced.
package columns

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
	"github.com/hpungsan/dirsync/internal/logging"
	"github.com/hpungsan/dirsync/internal/metrics"
	"github.com/hpungsan/dirsync/internal/shell"
)

// Column identifies a details-view column.
type Column string

const (
	Name       Column = "name"
	Type       Column = "type"
	Size       Column = "size"
	Modified   Column = "modified"
	Attributes Column = "attributes"
	Extension  Column = "extension"
)

// All lists every known column in display order.
var All = []Column{Name, Type, Size, Modified, Attributes, Extension}

// Parse converts column names, rejecting unknown ones.
func Parse(names []string) ([]Column, error) {
	out := make([]Column, 0, len(names))
	for _, n := range names {
		c := Column(strings.ToLower(strings.TrimSpace(n)))
		if !slices.Contains(All, c) {
			return nil, errors.NewInvalidRequest("unknown column: " + n)
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Request asks for the value of one column of one item.
type Request struct {
	Generation uint64
	Item       item.ID
	Column     Column
	Path       string
}

// Result answers a Request. Err is set when the value could not be computed.
type Result struct {
	Request
	Value string
	Err   error
}

// ModTimeLayout is the layout of the modified column.
const ModTimeLayout = "2006-01-02 15:04"

// Compute returns the text of column c for the entry at path.
func Compute(p shell.Prober, c Column, path string) (string, error) {
	_, name := shell.BindParent(path)
	switch c {
	case Name:
		return name, nil
	case Extension:
		return item.Ext(name), nil
	}

	md, err := p.Probe(path)
	if err != nil {
		return "", err
	}
	switch c {
	case Size:
		if md.Attributes.Has(item.AttrDirectory) {
			return "", nil
		}
		return humanize.IBytes(md.Size), nil
	case Modified:
		return md.ModTime.Format(ModTimeLayout), nil
	case Attributes:
		return md.Attributes.String(), nil
	case Type:
		if md.Attributes.Has(item.AttrDirectory) {
			return "folder", nil
		}
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return "", err
		}
		return mt.String(), nil
	}
	return "", errors.NewInvalidRequest("unknown column: " + string(c))
}

// Options configures a Pool.
type Options struct {
	Workers int
	Prober  shell.Prober
	Logger  *zap.Logger
}

// Pool is a set of column workers.
type Pool struct {
	in      chan Request
	work    chan Request
	results chan Result
	done    chan struct{}
	cancel  context.CancelFunc
	g       *errgroup.Group
	log     *zap.Logger
	prober  shell.Prober

	closeOnce sync.Once
}

// Start launches opts.Workers workers (at least one). They stop when ctx is
// cancelled or Close is called.
func Start(ctx context.Context, opts Options) *Pool {
	workers := max(opts.Workers, 1)
	prober := opts.Prober
	if prober == nil {
		prober = shell.OSProber{}
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		in:      make(chan Request),
		work:    make(chan Request),
		results: make(chan Result, workers*4),
		done:    make(chan struct{}),
		cancel:  cancel,
		g:       g,
		log:     logging.OrGlobal(opts.Logger).Named("columns"),
		prober:  prober,
	}

	g.Go(func() error { return p.dispatch(ctx) })
	for range workers {
		g.Go(func() error { return p.worker(ctx) })
	}
	go func() {
		<-ctx.Done()
		close(p.done)
	}()
	return p
}

// dispatch buffers requests so Enqueue never waits on a busy worker.
func (p *Pool) dispatch(ctx context.Context) error {
	var queue []Request
	for {
		var out chan<- Request
		var next Request
		if len(queue) > 0 {
			out = p.work
			next = queue[0]
		}
		select {
		case req := <-p.in:
			queue = append(queue, req)
		case out <- next:
			queue = queue[1:]
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case req := <-p.work:
			val, err := Compute(p.prober, req.Column, req.Path)
			if err != nil {
				p.log.Debug("column value failed",
					zap.String("column", string(req.Column)),
					zap.String("path", req.Path),
					zap.Error(err))
				metrics.RecordColumnResult("error")
			} else {
				metrics.RecordColumnResult("ok")
			}
			select {
			case p.results <- Result{Request: req, Value: val, Err: err}:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Enqueue submits req. It returns false once the pool is shutting down.
func (p *Pool) Enqueue(req Request) bool {
	select {
	case p.in <- req:
		metrics.RecordColumnRequest(string(req.Column))
		return true
	case <-p.done:
		return false
	}
}

// Results delivers answers. The channel is closed by Close.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops the workers, discards queued requests and closes Results.
// Answers already buffered stay readable until drained. Close is idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.g.Wait()
		close(p.results)
	})
}
