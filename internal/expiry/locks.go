package expiry

import "sync"

// userLock is a reference-counted per-user mutex. Arm, cancel and fire for
// one user serialize on it while other users proceed independently; entries
// are dropped from the map once the last holder releases, so the lock set
// stays proportional to concurrent activity, not to total users seen.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Scheduler) lockUser(userID int64) *userLock {
	s.mu.Lock()
	l := s.locks[userID]
	if l == nil {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Scheduler) unlockUser(userID int64, l *userLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, userID)
	}
	s.mu.Unlock()
}
