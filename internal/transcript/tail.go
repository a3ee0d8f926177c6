package transcript

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Follower tails a transcript file and fans newly-appended messages out to
// any number of subscribers (§4.2: "tail-and-follow"). It never buffers the
// whole file in memory — only the byte offset already consumed — and it
// prefers an fsnotify watch over polling when one can be established,
// falling back to the configured cadence otherwise (Design Notes: "the
// implementation may substitute file-watch notifications where
// available").
//
// Grounded on the teacher's internal/server.Broadcaster (fan-out to lazy
// subscribers, slow-subscriber drop instead of blocking the producer) and
// internal/attractor/runstate.LoadSnapshot (tolerating a not-yet-created
// file).
type Follower struct {
	path         string
	pollInterval time.Duration
	reader       *Reader

	mu      sync.Mutex
	subs    map[uint64]chan Message
	nextID  uint64
	closed  bool
	offset  int64
	pending []byte // partial trailing line across reads
}

// NewFollower builds a Follower. pollInterval <= 0 defaults to 1s (§4.2).
func NewFollower(path string, pollInterval time.Duration, reader *Reader) *Follower {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Follower{
		path:         path,
		pollInterval: pollInterval,
		reader:       reader,
		subs:         map[uint64]chan Message{},
	}
}

// Subscribe returns a channel of newly-appended messages and an unsubscribe
// function. Channels are buffered; a subscriber that falls behind is
// dropped (closed) rather than blocking the tailer.
func (f *Follower) Subscribe() (<-chan Message, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Message, 256)
	id := f.nextID
	f.nextID++
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

func (f *Follower) broadcast(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		select {
		case ch <- msg:
		default:
			close(ch)
			delete(f.subs, id)
		}
	}
}

// Run polls/watches the file until ctx is cancelled or a session-end marker
// is read; it stops on that marker without checking for further writer
// activity. It is
// safe to call Run before the file exists: absence is not an error, it
// simply means no messages are available yet.
func (f *Follower) Run(ctx context.Context) error {
	defer f.close()

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		defer func() { _ = watcher.Close() }()
		_ = watcher.Add(dirOf(f.path))
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		if done := f.pump(); done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case ev := <-watchCh(watcher):
			if ev.Name != "" && baseOf(ev.Name) == baseOf(f.path) {
				continue // the next loop iteration's pump() picks it up
			}
		}
	}
}

// pump reads any newly-appended complete lines since the last offset and
// broadcasts them. It returns true once a terminal session-end marker has
// been observed, signaling Run to stop.
func (f *Follower) pump() bool {
	file, err := os.Open(f.path)
	if err != nil {
		return false // absent or unreadable: keep polling, not fatal here
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return false
	}
	if info.Size() < f.offset {
		// File was truncated/replaced; restart from the beginning.
		f.offset = 0
		f.pending = nil
	}
	if info.Size() == f.offset {
		return false
	}

	if _, err := file.Seek(f.offset, 0); err != nil {
		return false
	}
	buf := make([]byte, info.Size()-f.offset)
	n, _ := file.Read(buf)
	f.offset += int64(n)

	data := append(f.pending, buf[:n]...)
	lines := strings.Split(string(data), "\n")
	// The last element may be a partial line; keep it pending.
	f.pending = []byte(lines[len(lines)-1])
	lines = lines[:len(lines)-1]

	ended := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg, err := parseLine([]byte(line))
		if err != nil {
			continue // malformed: skipped, per §4.2
		}
		f.broadcast(msg)
		if msg.IsSessionEnd {
			ended = true
		}
	}
	return ended
}

func (f *Follower) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}

func dirOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return "."
}

func baseOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// watchCh returns w.Events if w is non-nil, or a nil channel (which blocks
// forever in a select) when no watcher could be established.
func watchCh(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}
