package orchestrator

import "sync"

// Tail is a bounded byte buffer holding the most recent output of a
// captured stream. Once the cap is exceeded the oldest bytes are dropped.
type Tail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

// NewTail returns a tail keeping at most max bytes. A max of zero or less
// discards everything.
func NewTail(max int) *Tail {
	return &Tail{max: max}
}

// WriteLine appends line plus a newline, trimming from the front to stay
// within the byte cap.
func (t *Tail) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.max <= 0 {
		return
	}
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

// String returns the current tail contents.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// TailPair bundles the stdout and stderr tails of one captured process.
type TailPair struct {
	Stdout *Tail
	Stderr *Tail
}

// NewTailPair returns a pair with the given per-stream byte caps.
func NewTailPair(stdoutMax, stderrMax int) *TailPair {
	return &TailPair{Stdout: NewTail(stdoutMax), Stderr: NewTail(stderrMax)}
}
