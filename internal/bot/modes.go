package bot

import "sync"

// Modes holds the process-wide mode flags. The admin dispatcher is the only
// writer; the workflow engine reads them on every message.
type Modes struct {
	mu        sync.RWMutex
	vacation  bool
	promotion bool
}

// NewModes creates Modes with the given startup values.
func NewModes(vacation, promotion bool) *Modes {
	return &Modes{vacation: vacation, promotion: promotion}
}

// Vacation reports whether the vacation auto-responder is on.
func (m *Modes) Vacation() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vacation
}

// Promotion reports whether the promotion menu option is offered.
func (m *Modes) Promotion() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.promotion
}

// SetVacation sets the vacation flag.
func (m *Modes) SetVacation(on bool) {
	m.mu.Lock()
	m.vacation = on
	m.mu.Unlock()
}

// SetPromotion sets the promotion flag.
func (m *Modes) SetPromotion(on bool) {
	m.mu.Lock()
	m.promotion = on
	m.mu.Unlock()
}

// ToggleVacation flips the vacation flag and returns the new value.
func (m *Modes) ToggleVacation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vacation = !m.vacation
	return m.vacation
}

// MenuKeys returns the menu digits claimed by the complaint and promotion
// options under the current flags. An empty key means the option is not
// offered. Vacation claims "5"; promotion takes the next free digit.
func (m *Modes) MenuKeys() (complaint, promotion string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.vacation && m.promotion:
		return "5", "6"
	case m.vacation:
		return "5", ""
	case m.promotion:
		return "", "5"
	}
	return "", ""
}
