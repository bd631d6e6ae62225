package logging

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 256

// subscribers fans entries out to live listeners. A listener that falls
// behind misses entries and the miss is counted.
type subscribers struct {
	mu      sync.Mutex
	nextID  uint64
	streams map[uint64]chan LogEntry
	dropped atomic.Uint64
}

func newSubscribers() *subscribers {
	return &subscribers{streams: map[uint64]chan LogEntry{}}
}

func (s *subscribers) add(size int) (<-chan LogEntry, func()) {
	if size <= 0 {
		size = defaultSubscriberBuffer
	}
	stream := make(chan LogEntry, size)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.streams[id] = stream
	s.mu.Unlock()

	var once sync.Once
	return stream, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.streams, id)
			s.mu.Unlock()
			close(stream)
		})
	}
}

func (s *subscribers) send(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stream := range s.streams {
		select {
		case stream <- entry:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}
