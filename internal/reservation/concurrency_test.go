package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/schedule-seat-reservation/internal/capacity"
	"github.com/iliyamo/schedule-seat-reservation/internal/model"
)

// runConcurrentCreates fires n creates of count seats at once and returns
// how many succeeded.  Every failure must be one of allowed.
func runConcurrentCreates(t *testing.T, m *Manager, n, count int, allowed ...error) int {
	t.Helper()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.CreateReservation(context.Background(), customer, testScheduleID, input(count))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			for _, a := range allowed {
				if errors.Is(err, a) {
					return
				}
			}
			t.Errorf("unexpected error: %v", err)
		}()
	}
	close(start)
	wg.Wait()
	return successes
}

func TestConcurrentCreates_OnlyOneFits(t *testing.T) {
	// Each request takes more than half of the seats, so exactly one can
	// be admitted whatever the interleaving.
	const seats, n = 10, 10
	l := seedLedger(t, seats)
	m := newTestManager(l)

	got := runConcurrentCreates(t, m, n, seats/n+5, ErrCapacityExceeded)
	assert.Equal(t, 1, got)

	s := requireConsistent(t, l, testScheduleID)
	assert.LessOrEqual(t, capacity.CommittedSeats(s.Reservations, ""), seats)
}

func TestConcurrentCreates_FillExactly(t *testing.T) {
	const seats, n, count = 100, 40, 6
	l := seedLedger(t, seats)
	m := newTestManager(l)

	got := runConcurrentCreates(t, m, n, count, ErrCapacityExceeded)
	assert.Equal(t, seats/count, got)

	s := requireConsistent(t, l, testScheduleID)
	assert.Equal(t, seats/count*count, capacity.CommittedSeats(s.Reservations, ""))
}

func TestConcurrentCreates_OptimisticWritesAloneNeverOverbook(t *testing.T) {
	// Without a lock every writer races on the schedule version.  Losers
	// retry or give up with ErrContention but the bound holds.
	const seats, n, count = 20, 30, 3
	l := seedLedger(t, seats)
	m := NewManager(l, nopLocker{}, WithMaxRetries(50))

	got := runConcurrentCreates(t, m, n, count, ErrCapacityExceeded, ErrContention)
	assert.LessOrEqual(t, got*count, seats)

	s := requireConsistent(t, l, testScheduleID)
	assert.Equal(t, got*count, capacity.CommittedSeats(s.Reservations, ""))
}

func TestConcurrentUpdatesAndCancels(t *testing.T) {
	const seats = 30
	l := seedLedger(t, seats)
	m := newTestManager(l)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		r, err := m.CreateReservation(ctx, customer, testScheduleID, input(3))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if i%2 == 0 {
				_ = m.CancelReservation(ctx, customer, id)
				return
			}
			_, err := m.UpdateReservation(ctx, customer, testScheduleID, id, input(6))
			if err != nil && !errors.Is(err, ErrCapacityExceeded) {
				t.Errorf("update %s: %v", id, err)
			}
		}(i, id)
	}
	wg.Wait()

	s := requireConsistent(t, l, testScheduleID)
	assert.LessOrEqual(t, capacity.CommittedSeats(s.Reservations, ""), seats)
	for _, r := range s.Reservations {
		if r.Status == model.ReservationReserved {
			assert.Contains(t, []int{3, 6}, r.ReservedCount)
		}
	}
}
