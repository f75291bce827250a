package replay

import "github.com/batsched/batsched/pkg/intervalset"

// energyMeter integrates a linear power model: a host draws its busy power while a job runs on it
// and its idle power otherwise.
type energyMeter struct {
	idlePower float64
	busyPower float64
	busy      []bool
	// Joules consumed by each host up to lastUpdate.
	energy     []float64
	lastUpdate float64
}

func newEnergyMeter(platform *PlatformSpec) *energyMeter {
	return &energyMeter{
		idlePower: platform.IdlePower,
		busyPower: platform.BusyPower,
		busy:      make([]bool, platform.Hosts),
		energy:    make([]float64, platform.Hosts),
	}
}

func (m *energyMeter) advance(now float64) {
	dt := now - m.lastUpdate
	if dt <= 0 {
		return
	}
	for host, busy := range m.busy {
		power := m.idlePower
		if busy {
			power = m.busyPower
		}
		m.energy[host] += power * dt
	}
	m.lastUpdate = now
}

func (m *energyMeter) setBusy(now float64, hosts intervalset.Set, busy bool) {
	m.advance(now)
	for _, host := range hosts.Hosts() {
		m.busy[host] = busy
	}
}

// Energy returns the energy consumed by every host up to now.
func (m *energyMeter) Energy(now float64) []float64 {
	m.advance(now)
	rv := make([]float64, len(m.energy))
	copy(rv, m.energy)
	return rv
}

func (m *energyMeter) Total(now float64) float64 {
	total := 0.0
	for _, energy := range m.Energy(now) {
		total += energy
	}
	return total
}
