package feed

import (
	"context"
	"io"

	"github.com/breeze-rmm/appupdate/internal/appupdate"
)

// meter turns byte counts across several files into one 0..100 stream in
// which every value is reported at most once.
type meter struct {
	onPercent appupdate.PercentFunc
	// total is the byte count of all files, 0 when any size is unknown.
	total     int64
	files     int
	doneBytes int64
	doneFiles int
	last      int
}

func (m *meter) progress(current, size int64) {
	var pct int
	switch {
	case m.total > 0:
		pct = int((m.doneBytes + current) * 100 / m.total)
	case m.files == 0:
		return
	case size > 0:
		pct = (m.doneFiles*100 + int(current*100/size)) / m.files
	default:
		pct = m.doneFiles * 100 / m.files
	}
	m.report(pct)
}

func (m *meter) fileDone(written int64) {
	m.doneBytes += written
	m.doneFiles++
	m.progress(0, 0)
}

func (m *meter) report(pct int) {
	if pct > 100 {
		pct = 100
	}
	if m.onPercent == nil || pct <= m.last {
		return
	}
	m.last = pct
	m.onPercent(pct)
}

// meteredReader feeds a meter and stops once ctx is done.
type meteredReader struct {
	ctx   context.Context
	r     io.Reader
	size  int64
	read  int64
	meter *meter
}

func (r *meteredReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	r.read += int64(n)
	r.meter.progress(r.read, r.size)
	return n, err
}
