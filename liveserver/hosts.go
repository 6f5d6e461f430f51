package liveserver

import (
	"slices"
	"sync"
)

// Allowance is the mutable set of host names the system under test accepts
// requests for. The live server's own host is appended for exactly as long
// as the server runs.
type Allowance struct {
	mu    sync.Mutex
	hosts []string
}

func NewAllowance(hosts ...string) *Allowance {
	return &Allowance{hosts: slices.Clone(hosts)}
}

// Add appends host and returns the undo that removes it again. The undo
// only removes what this call added, so unrelated later additions survive.
func (a *Allowance) Add(host string) (restore func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hosts = append(a.hosts, host)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if i := slices.Index(a.hosts, host); i >= 0 {
				a.hosts = slices.Delete(a.hosts, i, i+1)
			}
		})
	}
}

// List returns a copy of the current set.
func (a *Allowance) List() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.hosts)
}
