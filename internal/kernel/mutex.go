package kernel

// Mutex is a recursive mutual-exclusion lock: the owning thread may pend
// on it repeatedly without blocking itself, and must post it the same
// number of times to release it.
type Mutex struct {
	k     *Kernel
	Name  string
	sem   *Semaphore
	owner *Thread
	count int
}

// NewMutex creates an unlocked, recursive mutex.
func (k *Kernel) NewMutex(name string) *Mutex {
	return &Mutex{k: k, Name: name, sem: k.NewSemaphore(name+".sem", 1)}
}

// PendMutex acquires the mutex, blocking up to ticks ticks if another thread
// holds it. A thread that already owns the mutex simply increments the
// recursion count and returns immediately.
func (t *Thread) PendMutex(m *Mutex, ticks int64) ReturnCode {
	m.k.crit.lock()
	if m.owner == t {
		m.count++
		m.k.crit.unlock()
		return WokeNormally
	}
	m.k.crit.unlock()

	rc := t.Pend(m.sem, ticks)
	if rc == WokeNormally {
		m.k.crit.lock()
		m.owner = t
		m.count = 1
		m.k.crit.unlock()
	}
	return rc
}

// PostMutex releases one level of recursion; only the owning thread may
// call it, and the underlying semaphore is only released once the
// recursion count reaches zero. Calling PostMutex from a non-owning thread is
// an invariant violation.
func (t *Thread) PostMutex(m *Mutex) {
	m.k.crit.lock()
	if m.owner != t {
		m.k.crit.unlock()
		Assert("mutex %q posted by non-owner thread %q", m.Name, t.Name)
		return
	}
	m.count--
	done := m.count == 0
	if done {
		m.owner = nil
	}
	m.k.crit.unlock()

	if done {
		m.sem.Post()
	}
}

// Owner reports the thread currently holding m, or nil.
func (m *Mutex) Owner() *Thread {
	m.k.crit.lock()
	defer m.k.crit.unlock()
	return m.owner
}
