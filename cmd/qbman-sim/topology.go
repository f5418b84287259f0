package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Topology describes the simulated queue manager and the traffic run
// through it. Portal 0 produces and portal 1 consumes.
type Topology struct {
	Portals  int           `yaml:"portals"`
	Memory   MemorySpec    `yaml:"memory"`
	Channels []ChannelSpec `yaml:"channels"`
	FQs      []FQSpec      `yaml:"fqs"`
	Pools    []PoolSpec    `yaml:"pools"`
	QDs      []QDSpec      `yaml:"qds"`
	Traffic  TrafficSpec   `yaml:"traffic"`
}

// MemorySpec places the frame buffer memory in the DMA address space.
type MemorySpec struct {
	Base uint64 `yaml:"base"`
	Size string `yaml:"size"`
}

type ChannelSpec struct {
	ID uint32 `yaml:"id"`
}

type FQSpec struct {
	ID         uint32 `yaml:"id"`
	Channel    uint32 `yaml:"channel"`
	WQ         uint8  `yaml:"wq"`
	HoldActive bool   `yaml:"hold_active"`
	ORP        uint32 `yaml:"odp_orp"` // order restoration point fed on dequeue; 0 for none
	DAN        bool   `yaml:"dan"`
	Ctx        uint64 `yaml:"ctx"`
}

type PoolSpec struct {
	ID                 uint32 `yaml:"id"`
	Buffers            int    `yaml:"buffers"`
	BufferSize         string `yaml:"buffer_size"`
	DepletionThreshold int    `yaml:"depletion_threshold"`
}

// QDSpec is a queuing destination; FQs[prio][bin] is the FQ each pair
// resolves to.
type QDSpec struct {
	ID  uint32     `yaml:"id"`
	FQs [][]uint32 `yaml:"fqs"`
}

type TrafficSpec struct {
	Frames    int    `yaml:"frames"`
	FrameSize string `yaml:"frame_size"`
	Pool      uint32 `yaml:"pool"`
	QD        uint32 `yaml:"qd"` // enqueue through this QD's priority 0 bins; 0 targets the FQs directly
}

// DefaultTopology is used when no configuration file is given.
func DefaultTopology() *Topology {
	return &Topology{
		Portals: 2,
		Memory:  MemorySpec{Base: 0x8000_0000, Size: "4MiB"},
		Channels: []ChannelSpec{
			{ID: 1},
			{ID: 2},
		},
		FQs: []FQSpec{
			{ID: 0x100, Channel: 1, WQ: 0},
			{ID: 0x101, Channel: 1, WQ: 3, HoldActive: true},
			{ID: 0x102, Channel: 2, WQ: 1, ORP: 7},
			{ID: 0x103, Channel: 2, WQ: 1, DAN: true, Ctx: 0xfeed},
		},
		Pools: []PoolSpec{
			{ID: 1, Buffers: 1024, BufferSize: "2KiB", DepletionThreshold: 8},
		},
		QDs: []QDSpec{
			{ID: 1, FQs: [][]uint32{{0x100, 0x102}, {0x101}}},
		},
		Traffic: TrafficSpec{Frames: 100_000, FrameSize: "1500B", Pool: 1},
	}
}

// LoadTopology reads a YAML topology. Fields missing from the file keep
// their defaults.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := DefaultTopology()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func (t *Topology) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}

func parseSize(field, s string) (uint64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: must not be zero", field)
	}
	return n, nil
}

// Validate checks cross references and sizes.
func (t *Topology) Validate() error {
	if t.Portals < 2 {
		return fmt.Errorf("portals: need at least 2, have %d", t.Portals)
	}
	memSize, err := parseSize("memory.size", t.Memory.Size)
	if err != nil {
		return err
	}

	channels := make(map[uint32]bool)
	for _, c := range t.Channels {
		if c.ID == 0 || channels[c.ID] {
			return fmt.Errorf("channels: invalid or duplicate id %d", c.ID)
		}
		channels[c.ID] = true
	}
	if len(channels) == 0 {
		return fmt.Errorf("channels: at least one is required")
	}

	fqs := make(map[uint32]bool)
	for _, f := range t.FQs {
		if f.ID == 0 || fqs[f.ID] {
			return fmt.Errorf("fqs: invalid or duplicate id %#x", f.ID)
		}
		fqs[f.ID] = true
		if !channels[f.Channel] {
			return fmt.Errorf("fq %#x: unknown channel %d", f.ID, f.Channel)
		}
		if f.WQ > 7 {
			return fmt.Errorf("fq %#x: work queue %d out of range", f.ID, f.WQ)
		}
	}
	if len(fqs) == 0 {
		return fmt.Errorf("fqs: at least one is required")
	}

	var carved uint64
	pools := make(map[uint32]uint64)
	for _, p := range t.Pools {
		if _, dup := pools[p.ID]; dup {
			return fmt.Errorf("pools: duplicate id %d", p.ID)
		}
		size, err := parseSize(fmt.Sprintf("pool %d buffer_size", p.ID), p.BufferSize)
		if err != nil {
			return err
		}
		if p.Buffers <= 0 {
			return fmt.Errorf("pool %d: needs buffers", p.ID)
		}
		pools[p.ID] = size
		carved += uint64(p.Buffers) * ((size + 63) &^ 63)
	}
	if carved > memSize {
		return fmt.Errorf("pools need %s of buffer memory, have %s",
			humanize.IBytes(carved), humanize.IBytes(memSize))
	}

	qds := make(map[uint32]bool)
	for _, q := range t.QDs {
		if q.ID == 0 || qds[q.ID] {
			return fmt.Errorf("qds: invalid or duplicate id %d", q.ID)
		}
		qds[q.ID] = true
		if len(q.FQs) == 0 || len(q.FQs) > 16 {
			return fmt.Errorf("qd %d: needs 1 to 16 priorities", q.ID)
		}
		for prio, bins := range q.FQs {
			for _, id := range bins {
				if !fqs[id] {
					return fmt.Errorf("qd %d priority %d: unknown fq %#x", q.ID, prio, id)
				}
			}
		}
		if len(q.FQs[0]) == 0 {
			return fmt.Errorf("qd %d: priority 0 has no bins", q.ID)
		}
	}
	if t.Traffic.QD != 0 && !qds[t.Traffic.QD] {
		return fmt.Errorf("traffic.qd: unknown qd %d", t.Traffic.QD)
	}

	if t.Traffic.Frames <= 0 {
		return fmt.Errorf("traffic.frames: must be positive")
	}
	bufSize, ok := pools[t.Traffic.Pool]
	if !ok {
		return fmt.Errorf("traffic.pool: unknown pool %d", t.Traffic.Pool)
	}
	frameSize, err := parseSize("traffic.frame_size", t.Traffic.FrameSize)
	if err != nil {
		return err
	}
	if frameSize > bufSize {
		return fmt.Errorf("traffic.frame_size %s exceeds buffer size %s",
			humanize.IBytes(frameSize), humanize.IBytes(bufSize))
	}
	if frameSize < 8 {
		return fmt.Errorf("traffic.frame_size must hold an 8-byte sequence number")
	}
	return nil
}
