package qbman

import "github.com/ehrlich-b/go-qbman/sim"

// NewSimulatedPortal initialises a driver portal on portal idx of a
// simulated device. It is useful for testing code built on this package
// without hardware.
func NewSimulatedPortal(e *sim.Engine, idx int, opts *Options) (*Portal, error) {
	sp := e.Portal(idx)
	return Init(Descriptor{
		Index:    idx,
		Revision: e.Revision(),
		CENA:     sp,
		CINH:     sp,
	}, opts)
}

// MapStorage registers entries with the simulated device at DMA address
// phys so pulls using them as storage can be served.
func MapStorage(e *sim.Engine, phys uint64, entries []DQEntry) {
	e.MapDMA(phys, EntryWords(entries))
}

// MapResponse registers an enqueue response record at DMA address phys.
func MapResponse(e *sim.Engine, phys uint64, r *EqResponse) {
	e.MapDMA(phys, ResponseWords(r))
}

var (
	_ Registers = (*sim.Portal)(nil)
	_ Memory    = (*sim.Portal)(nil)
)
