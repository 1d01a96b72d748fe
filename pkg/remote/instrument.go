package remote

import (
	"context"
	"io"
	"time"
)

// Metrics receives one observation per remote operation.
type Metrics interface {
	ObserveOperation(op string, duration time.Duration, bytes int64, err error)
}

// Instrument wraps s so every call is reported to m. Get is observed when
// the returned reader is closed, with the number of bytes read.
func Instrument(s Store, m Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{store: s, metrics: m}
}

type instrumented struct {
	store   Store
	metrics Metrics
}

func (i *instrumented) Info(ctx context.Context, p string) (*Info, error) {
	start := time.Now()
	info, err := i.store.Info(ctx, p)
	i.metrics.ObserveOperation("info", time.Since(start), 0, err)
	return info, err
}

func (i *instrumented) List(ctx context.Context, p string, fn func(*Info) error) error {
	start := time.Now()
	var n int64
	err := i.store.List(ctx, p, func(info *Info) error {
		n++
		return fn(info)
	})
	// For listings bytes is the number of entries.
	i.metrics.ObserveOperation("list", time.Since(start), n, err)
	return err
}

func (i *instrumented) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.store.Get(ctx, p)
	if err != nil {
		i.metrics.ObserveOperation("get", time.Since(start), 0, err)
		return nil, err
	}
	return &countingReader{rc: rc, start: start, metrics: i.metrics}, nil
}

func (i *instrumented) Put(ctx context.Context, p string, r io.Reader, size int64) error {
	start := time.Now()
	err := i.store.Put(ctx, p, r, size)
	i.metrics.ObserveOperation("put", time.Since(start), size, err)
	return err
}

func (i *instrumented) Mkdir(ctx context.Context, p string) error {
	start := time.Now()
	err := i.store.Mkdir(ctx, p)
	i.metrics.ObserveOperation("mkdir", time.Since(start), 0, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, p string) error {
	start := time.Now()
	err := i.store.Delete(ctx, p)
	i.metrics.ObserveOperation("delete", time.Since(start), 0, err)
	return err
}

type countingReader struct {
	rc      io.ReadCloser
	start   time.Time
	n       int64
	err     error
	metrics Metrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

func (c *countingReader) Close() error {
	err := c.rc.Close()
	c.metrics.ObserveOperation("get", time.Since(c.start), c.n, c.err)
	return err
}
