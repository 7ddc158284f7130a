package bot

import "sync"

// Mailboxes serialises work per identity. Jobs posted for the same
// identity run one at a time in posting order; jobs for different
// identities run concurrently. A drain goroutine exists only while an
// identity has queued work.
type Mailboxes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

// NewMailboxes creates an empty set of mailboxes.
func NewMailboxes() *Mailboxes {
	return &Mailboxes{queues: make(map[string][]func())}
}

// Post queues job for identity.
func (m *Mailboxes) Post(identity string, job func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, busy := m.queues[identity]
	m.queues[identity] = append(q, job)
	if busy {
		return
	}
	m.wg.Add(1)
	go m.drain(identity)
}

func (m *Mailboxes) drain(identity string) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		q := m.queues[identity]
		if len(q) == 0 {
			delete(m.queues, identity)
			m.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		m.queues[identity] = q[1:]
		m.mu.Unlock()

		job()
	}
}

// Pending returns the number of queued jobs not yet started.
func (m *Mailboxes) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

// Wait blocks until every posted job has finished.
func (m *Mailboxes) Wait() {
	m.wg.Wait()
}
