package core

// limiter.go hands out report run slots.
//
// Every run drops and recreates payment_analysis_view, so by default there
// is a single slot. Slots are held by run id, which lets a rejected caller
// see which run is in the way and lets shutdown wait for the holders.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRunInProgress is returned when no run slot frees up in time.
var ErrRunInProgress = errors.New("report run in progress, please try again later")

// DefaultRunSlots is the number of report runs allowed at once.
const DefaultRunSlots = 1

// DefaultSlotWait is how long a synchronous run waits for a slot.
const DefaultSlotWait = 5 * time.Second

// runSlots is a semaphore over report runs keyed by run id.
type runSlots struct {
	slots chan struct{}
	wait  time.Duration

	mu      sync.Mutex
	holders map[string]time.Time
	idle    chan struct{} // closed while no run holds a slot
}

func newRunSlots(n int, wait time.Duration) *runSlots {
	if n <= 0 {
		n = DefaultRunSlots
	}
	if wait <= 0 {
		wait = DefaultSlotWait
	}
	idle := make(chan struct{})
	close(idle)
	return &runSlots{
		slots:   make(chan struct{}, n),
		wait:    wait,
		holders: make(map[string]time.Time),
		idle:    idle,
	}
}

// acquire waits up to the slot wait for a slot for run id.
func (s *runSlots) acquire(ctx context.Context, id string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	select {
	case s.slots <- struct{}{}:
		s.hold(id)
		return nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.busy()
	}
}

// tryAcquire takes a slot for run id without waiting.
func (s *runSlots) tryAcquire(id string) error {
	select {
	case s.slots <- struct{}{}:
		s.hold(id)
		return nil
	default:
		return s.busy()
	}
}

func (s *runSlots) hold(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.holders) == 0 {
		s.idle = make(chan struct{})
	}
	s.holders[id] = time.Now()
}

// release frees the slot held by run id. Unknown ids are ignored.
func (s *runSlots) release(id string) {
	s.mu.Lock()
	if _, ok := s.holders[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.holders, id)
	if len(s.holders) == 0 {
		close(s.idle)
	}
	s.mu.Unlock()

	<-s.slots
}

// busy names the oldest run holding a slot.
func (s *runSlots) busy() error {
	running := s.running()
	if len(running) == 0 {
		return ErrRunInProgress
	}
	return fmt.Errorf("%w (run %s)", ErrRunInProgress, running[0])
}

// running lists the runs holding a slot, oldest first.
func (s *runSlots) running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.holders))
	for id := range s.holders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.holders[ids[i]].Before(s.holders[ids[j]])
	})
	return ids
}

// drain blocks until no run holds a slot or ctx is done.
func (s *runSlots) drain(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
