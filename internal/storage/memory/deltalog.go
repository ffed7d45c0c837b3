package memory

import "github.com/mcoot/pxcanvas/internal/model"

// deltaLog is a fixed-size ring of the most recent deltas. Revisions in the
// ring are contiguous, so the slot for a revision is computed directly.
type deltaLog struct {
	buf   []model.Delta
	start int
	count int
}

func newDeltaLog(size int) *deltaLog {
	if size <= 0 {
		size = 1
	}
	return &deltaLog{buf: make([]model.Delta, size)}
}

func (l *deltaLog) append(d model.Delta) {
	if l.count < len(l.buf) {
		l.buf[(l.start+l.count)%len(l.buf)] = d
		l.count++
		return
	}
	l.buf[l.start] = d
	l.start = (l.start + 1) % len(l.buf)
}

// since returns the retained deltas with revision > rev. Callers guarantee
// rev is below the newest revision.
func (l *deltaLog) since(rev int64) ([]model.Delta, error) {
	if l.count == 0 || rev < 0 {
		return nil, model.ErrRevisionTooOld
	}
	oldest := l.buf[l.start].Revision
	if rev+1 < oldest {
		return nil, model.ErrRevisionTooOld
	}
	skip := int(rev + 1 - oldest)
	out := make([]model.Delta, 0, l.count-skip)
	for i := skip; i < l.count; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out, nil
}
