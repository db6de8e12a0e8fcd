package fuse

// waitQueue wakes goroutines blocked on a key. It has no lock of its own;
// callers hold the connection mutex for every call, so a waiter registered
// before the mutex is released cannot miss a notification.
type waitQueue struct {
	waiters map[uint64][]chan struct{}
}

// wait registers interest in key. The returned channel is closed by the
// next notify for key.
func (q *waitQueue) wait(key uint64) chan struct{} {
	if q.waiters == nil {
		q.waiters = make(map[uint64][]chan struct{})
	}
	ch := make(chan struct{})
	q.waiters[key] = append(q.waiters[key], ch)
	return ch
}

// cancel drops ch if it has not been notified yet.
func (q *waitQueue) cancel(key uint64, ch chan struct{}) {
	list := q.waiters[key]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(q.waiters, key)
	} else {
		q.waiters[key] = list
	}
}

func (q *waitQueue) notify(key uint64) {
	for _, ch := range q.waiters[key] {
		close(ch)
	}
	delete(q.waiters, key)
}

func (q *waitQueue) notifyAll() {
	for key := range q.waiters {
		q.notify(key)
	}
}

func (q *waitQueue) len() int {
	n := 0
	for _, list := range q.waiters {
		n += len(list)
	}
	return n
}
