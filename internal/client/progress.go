package client

import "sync/atomic"

// Progress tracks payload bytes moved for one transfer. It is safe to read
// from any goroutine while the transfer runs.
type Progress struct {
	total       atomic.Int64
	transferred atomic.Int64
}

func newProgress(total int) *Progress {
	p := &Progress{}
	p.total.Store(int64(total))
	return p
}

// Total is the payload size, or 0 while it is not yet known.
func (p *Progress) Total() int64 { return p.total.Load() }

// Transferred is the number of payload bytes moved so far.
func (p *Progress) Transferred() int64 { return p.transferred.Load() }

// Fraction returns Transferred/Total in [0, 1].
func (p *Progress) Fraction() float64 {
	total := p.total.Load()
	if total <= 0 {
		return 0
	}
	return min(float64(p.transferred.Load())/float64(total), 1)
}

func (p *Progress) add(n int) {
	p.transferred.Add(int64(n))
}

func (p *Progress) read(total, n int) {
	p.total.Store(int64(total))
	p.transferred.Add(int64(n))
}

// complete marks a transfer that finished without streaming, such as a cache hit.
func (p *Progress) complete(total int) {
	p.total.Store(int64(total))
	p.transferred.Store(int64(total))
}
