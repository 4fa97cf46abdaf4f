package queue

import (
	"context"
	"time"
)

func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	all, err := q.List(ctx, Filter{}, 0)
	if err != nil {
		return nil, err
	}
	now := q.now()
	s := &Stats{
		ByStatus:          make(map[Status]int, len(statuses)),
		PendingByPriority: make(map[Priority]int, 4),
	}
	for _, st := range statuses {
		s.ByStatus[st] = 0
	}
	for p := P0Critical; p <= P3Low; p++ {
		s.PendingByPriority[p] = 0
	}
	var (
		waitSum time.Duration
		waitN   int
	)
	for _, t := range all {
		s.ByStatus[t.Status]++
		if t.BoostCount > 0 {
			s.Boosted++
		}
		if t.StartedAt != nil {
			waitSum += t.StartedAt.Sub(t.CreatedAt)
			waitN++
		}
		if t.Status == StatusPending {
			s.PendingByPriority[t.Priority]++
			s.QueueSize++
			if age := t.Age(now); age > s.OldestPendingAge {
				s.OldestPendingAge = age
			}
		}
	}
	if waitN > 0 {
		s.AvgWait = waitSum / time.Duration(waitN)
	}
	return s, nil
}
