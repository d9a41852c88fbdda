package replay

import (
	"errors"
	"math/rand"
	"sync"

	"coach/internal/model"
)

var ErrInsufficientSamples = errors.New("not enough samples in replay store")

// Store is a FIFO-bounded collection of retained samples. It is written by the
// trainer on feedback and read by the training goroutine, hence the mutex.
type Store struct {
	mu       sync.Mutex
	samples  []model.Sample
	capacity int
	rng      *rand.Rand
	retained int
	evicted  int
}

func NewStore(capacity int, rng *rand.Rand) (*Store, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	return &Store{
		samples:  make([]model.Sample, 0, capacity),
		capacity: capacity,
		rng:      rng,
	}, nil
}

// Retain appends a copy of sample and evicts from the head while over capacity.
func (s *Store) Retain(sample model.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample.Clone())
	s.retained++
	if over := len(s.samples) - s.capacity; over > 0 {
		for i := 0; i < over; i++ {
			s.samples[i] = model.Sample{}
		}
		s.samples = append(s.samples[:0], s.samples[over:]...)
		s.evicted += over
	}
}

// SampleBatch draws n samples uniformly with replacement.
func (s *Store) SampleBatch(n int) ([]model.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return nil, errors.New("batch size must be > 0")
	}
	if n > len(s.samples) {
		return nil, ErrInsufficientSamples
	}
	batch := make([]model.Sample, n)
	for i := range batch {
		batch[i] = s.samples[s.rng.Intn(len(s.samples))].Clone()
	}
	return batch, nil
}

func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *Store) Capacity() int {
	return s.capacity
}

// Counters returns how many samples were retained and evicted over the store's life.
func (s *Store) Counters() (retained, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retained, s.evicted
}

// Snapshot returns copies of the stored samples, oldest first.
func (s *Store) Snapshot() []model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Sample, len(s.samples))
	for i, sample := range s.samples {
		out[i] = sample.Clone()
	}
	return out
}

// Restore replaces the contents, keeping only the newest capacity samples.
func (s *Store) Restore(samples []model.Sample) {
	if over := len(samples) - s.capacity; over > 0 {
		samples = samples[over:]
	}
	restored := make([]model.Sample, len(samples), s.capacity)
	for i, sample := range samples {
		restored[i] = sample.Clone()
	}

	s.mu.Lock()
	s.samples = restored
	s.mu.Unlock()
}
