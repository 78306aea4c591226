package utils

import "sync"

// Mean is a running average, safe for concurrent use.
type Mean struct {
	lock sync.Mutex
	sum  float64
	n    int64
}

func (m *Mean) Add(val float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sum += val
	m.n++
}

// Value is zero until the first Add.
func (m *Mean) Value() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func (m *Mean) Count() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.n
}
