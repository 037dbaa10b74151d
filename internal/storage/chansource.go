package storage

import (
	"context"
	"log"
	"time"
)

// ChanSource is a RowSource fed by a producer goroutine over a channel. It
// lets a bulk copy consume rows while they are still being parsed, never
// holding more than the channel's buffer in memory.
//
// Next returns false when the channel is closed or ctx is done; in the
// latter case Err reports ctx.Err(). Producer failures travel out of band
// (typically through an errgroup), so callers must check the producer's
// error before trusting a clean end of stream.
//
// Progress is logged every LogEvery rows with the instantaneous rate since
// the previous progress line. Zero disables it.
type ChanSource struct {
	ctx      context.Context
	in       <-chan []any
	LogEvery int64

	cur   []any
	err   error
	total int64

	start, last time.Time
	lastTotal   int64
}

var _ RowSource = (*ChanSource)(nil)

func NewChanSource(ctx context.Context, in <-chan []any) *ChanSource {
	now := time.Now()
	return &ChanSource{ctx: ctx, in: in, start: now, last: now}
}

func (s *ChanSource) Next() bool {
	if s.err != nil {
		return false
	}
	select {
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	case row, ok := <-s.in:
		if !ok {
			return false
		}
		s.cur = row
		s.total++
		if s.LogEvery > 0 && s.total%s.LogEvery == 0 {
			s.progress()
		}
		return true
	}
}

func (s *ChanSource) progress() {
	now := time.Now()
	since := now.Sub(s.last)
	rps := float64(0)
	if since > 0 {
		rps = float64(s.total-s.lastTotal) / since.Seconds()
	}
	log.Printf("copy: rps=%.0f total=%d elapsed=%s since_last=%s",
		rps, s.total, now.Sub(s.start).Truncate(time.Millisecond), since.Truncate(time.Millisecond))
	s.last, s.lastTotal = now, s.total
}

func (s *ChanSource) Values() ([]any, error) { return s.cur, nil }

func (s *ChanSource) Err() error { return s.err }

// Count returns the number of rows handed out so far.
func (s *ChanSource) Count() int64 { return s.total }
