package scanrig

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

const DefaultFilenamePattern = "img%05d.jpg"

// Sequence is the next image number of a session.
type Sequence struct {
	mu      sync.Mutex
	next    int
	pattern string
}

// NewSequence starts a counter at zero.
func NewSequence(pattern string) *Sequence {
	if pattern == "" {
		pattern = DefaultFilenamePattern
	}
	return &Sequence{pattern: pattern}
}

// Peek returns the number the next capture will use.
func (s *Sequence) Peek() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Next returns the current number and advances by count.
func (s *Sequence) Next(count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.next
	if count > 0 {
		s.next += count
	}
	return start
}

// Override jumps to n rounded down to even, so that pairs keep Primary on
// even numbers and Secondary on odd numbers.
func (s *Sequence) Override(n int) (int, error) {
	if n < 0 {
		return 0, errors.Errorf("sequence: negative image number %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = n / 2 * 2
	return s.next, nil
}

// Filename formats image number n.
func (s *Sequence) Filename(n int) string {
	return fmt.Sprintf(s.pattern, n)
}
