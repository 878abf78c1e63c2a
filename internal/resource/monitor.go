// Package resource implements a counting semaphore bounded by a maximum
// concurrency, with telemetry (current, peak, average, totals). It is
// touched only by the task pool driver goroutine — never concurrently — so
// it needs no internal locking of its own; see the package doc in
// internal/taskpool for the single-driver rationale.
package resource

// Monitor is a counting semaphore with utilization telemetry.
type Monitor struct {
	maxConcurrency int
	inUse          int

	peakConcurrency int
	totalAllocations int
	totalReleases    int

	// allocationEvents/concurrencySum back a simple arithmetic-mean average
	// concurrency: event-averaged rather than time-weighted, since it needs
	// no wall-clock bookkeeping beyond the counters already here.
	allocationEvents int
	concurrencySum   int
}

// New returns a Monitor with the given maximum concurrency.
func New(maxConcurrency int) *Monitor {
	return &Monitor{maxConcurrency: maxConcurrency}
}

// CanAllocate reports whether n more slots are currently available.
func (m *Monitor) CanAllocate(n int) bool {
	return n <= m.free()
}

func (m *Monitor) free() int {
	return m.maxConcurrency - m.inUse
}

// Allocate attempts to reserve n slots. On success it updates inUse, peak
// concurrency, and total allocation telemetry, and returns true. On failure
// it leaves all state unchanged and returns false.
func (m *Monitor) Allocate(n int) bool {
	if !m.CanAllocate(n) {
		return false
	}
	m.inUse += n
	if m.inUse > m.peakConcurrency {
		m.peakConcurrency = m.inUse
	}
	m.totalAllocations += n
	m.allocationEvents++
	m.concurrencySum += m.inUse
	return true
}

// Release returns n slots, clamping inUse at zero.
func (m *Monitor) Release(n int) {
	m.inUse -= n
	if m.inUse < 0 {
		m.inUse = 0
	}
	m.totalReleases += n
}

// GetAvailableSlots returns the number of slots currently free.
func (m *Monitor) GetAvailableSlots() int { return m.free() }

// GetCurrentConcurrency returns the number of slots currently in use.
func (m *Monitor) GetCurrentConcurrency() int { return m.inUse }

// GetUtilization returns current utilization as a percentage in [0, 100].
func (m *Monitor) GetUtilization() float64 {
	if m.maxConcurrency == 0 {
		return 0
	}
	return 100 * float64(m.inUse) / float64(m.maxConcurrency)
}

// IsFullyUtilized reports whether every slot is in use.
func (m *Monitor) IsFullyUtilized() bool { return m.inUse >= m.maxConcurrency }

// IsIdle reports whether no slot is in use.
func (m *Monitor) IsIdle() bool { return m.inUse == 0 }

// Metrics is a point-in-time telemetry snapshot.
type Metrics struct {
	CurrentConcurrency int
	PeakConcurrency    int
	AverageConcurrency float64
	TotalAllocations   int
	TotalReleases      int
}

// GetMetrics returns a snapshot of the monitor's telemetry.
func (m *Monitor) GetMetrics() Metrics {
	avg := 0.0
	if m.allocationEvents > 0 {
		avg = float64(m.concurrencySum) / float64(m.allocationEvents)
	}
	return Metrics{
		CurrentConcurrency: m.inUse,
		PeakConcurrency:    m.peakConcurrency,
		AverageConcurrency: avg,
		TotalAllocations:   m.totalAllocations,
		TotalReleases:      m.totalReleases,
	}
}

// Reset zeroes every counter, including current usage.
func (m *Monitor) Reset() {
	m.inUse = 0
	m.peakConcurrency = 0
	m.totalAllocations = 0
	m.totalReleases = 0
	m.allocationEvents = 0
	m.concurrencySum = 0
}
