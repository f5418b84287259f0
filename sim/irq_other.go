//go:build !linux

package sim

import "errors"

type irqLine struct{}

func (l *irqLine) update(bool) {}

func (p *Portal) shutdownIRQ() {}

func (p *Portal) closeIRQ() error { return nil }

// IRQFD is only available on Linux.
func (p *Portal) IRQFD() (int, error) {
	return -1, errors.New("sim: interrupt descriptors require linux")
}
