package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor holds the latest status of each named component.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name. The stored status takes name as its component.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns the status recorded under name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove forgets name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Components returns the monitored names in sorted order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth rolls every monitored status up under systemName.
func (m *Monitor) AggregateHealth(systemName string) Status {
	return m.AggregateOf(systemName, m.Components())
}

// AggregateOf rolls up the named statuses. A name with no recorded status counts as
// unhealthy.
func (m *Monitor) AggregateOf(systemName string, names []string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		status, ok := m.statuses[name]
		if !ok {
			status = NewUnhealthy(name, "not monitored")
		}
		subs = append(subs, status)
	}
	m.mu.RUnlock()
	return Aggregate(systemName, subs)
}

// Aggregate combines sub-statuses: unhealthy if any is unhealthy, otherwise degraded if
// any is degraded, otherwise healthy. Sub-statuses are kept sorted by component.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	var unhealthy, degraded int
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case degraded > 0:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	sort.SliceStable(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Component < status.SubStatuses[j].Component
	})
	return status
}
