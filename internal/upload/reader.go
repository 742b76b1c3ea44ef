package upload

import (
	"context"
	"io"
	"sync/atomic"
)

// Gate reports whether work may continue.
type Gate interface {
	Check(ctx context.Context) error
}

// pausingReader consults the gate after every chunk of bytes read. The HTTP
// transport reads it from its own goroutine, so interruption is recorded in an
// atomic flag rather than inferred from the transport's wrapped error.
type pausingReader struct {
	ctx         context.Context
	r           io.Reader
	gate        Gate
	chunk       int
	sinceCheck  int
	sent        atomic.Int64
	interrupted atomic.Bool
	onRead      func(sent int64)
}

func newPausingReader(ctx context.Context, r io.Reader, gate Gate, chunk int, onRead func(int64)) *pausingReader {
	return &pausingReader{ctx: ctx, r: r, gate: gate, chunk: chunk, onRead: onRead}
}

func (p *pausingReader) Read(b []byte) (int, error) {
	if p.sinceCheck >= p.chunk {
		if err := p.gate.Check(p.ctx); err != nil {
			p.interrupted.Store(true)
			return 0, err
		}
		p.sinceCheck = 0
	}
	if room := p.chunk - p.sinceCheck; len(b) > room {
		b = b[:room]
	}
	n, err := p.r.Read(b)
	p.sinceCheck += n
	sent := p.sent.Add(int64(n))
	if n > 0 && p.onRead != nil {
		p.onRead(sent)
	}
	return n, err
}

func (p *pausingReader) Interrupted() bool {
	return p.interrupted.Load()
}

func (p *pausingReader) Sent() int64 {
	return p.sent.Load()
}
