package kernel

// MQueue is a fixed-capacity queue of fixed-size messages. Send never
// blocks (it fails if the queue is full, so it is safe to call from ISR
// context); Get blocks the caller until a message is available.
type MQueue struct {
	k    *Kernel
	Name string
	sem  *Semaphore

	slots [][]uint32
	size  int // words per message
	read  int
	write int
	used  int
}

// NewMQueue creates a queue holding up to count messages of size words
// each.
func (k *Kernel) NewMQueue(name string, count, size int) *MQueue {
	q := &MQueue{
		k:     k,
		Name:  name,
		sem:   k.NewSemaphore(name+".sem", 0),
		slots: make([][]uint32, count),
		size:  size,
	}
	for i := range q.slots {
		q.slots[i] = make([]uint32, size)
	}
	return q
}

// Send copies msg (size words) into the queue and posts its semaphore. It
// reports false if the queue was full.
func (q *MQueue) Send(msg []uint32) bool {
	if len(msg) != q.size {
		Assert("mqueue %q: send of %d words, want %d", q.Name, len(msg), q.size)
	}
	q.k.crit.lock()
	if q.used == len(q.slots) {
		q.k.crit.unlock()
		return false
	}
	copy(q.slots[q.write], msg)
	q.write = (q.write + 1) % len(q.slots)
	q.used++
	q.k.crit.unlock()

	q.sem.Post()
	return true
}

// Get blocks the calling thread until a message is available (or the
// timeout elapses), then copies it into out. The bool result is false on
// timeout, in which case out is left unmodified.
func (t *Thread) Get(q *MQueue, out []uint32, ticks int64) bool {
	if len(out) != q.size {
		Assert("mqueue %q: get into %d words, want %d", q.Name, len(out), q.size)
	}
	if t.Pend(q.sem, ticks) != WokeNormally {
		return false
	}
	q.k.crit.lock()
	copy(out, q.slots[q.read])
	q.read = (q.read + 1) % len(q.slots)
	q.used--
	q.k.crit.unlock()
	return true
}
