package utils

import "sync"

// AvgVal is a running mean and maximum; the zero value has no samples.
type AvgVal struct {
	lock  sync.Mutex
	v     float64
	max   float64
	count int
}

func (a *AvgVal) Add(val float64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.count++
	a.v += (val - a.v) / float64(a.count)
	if a.count == 1 || val > a.max {
		a.max = val
	}
}

func (a *AvgVal) Val() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.v
}

func (a *AvgVal) Max() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.max
}

func (a *AvgVal) Count() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.count
}
