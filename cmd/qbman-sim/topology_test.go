package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultTopologyValid(t *testing.T) {
	require.NoError(t, DefaultTopology().Validate())
}

func TestLoadTopologyOverrides(t *testing.T) {
	path := writeTopology(t, `
traffic:
  frames: 42
  frame_size: 64B
  pool: 1
`)
	topo, err := LoadTopology(path)
	require.NoError(t, err)
	assert.Equal(t, 42, topo.Traffic.Frames)
	assert.Equal(t, "64B", topo.Traffic.FrameSize)
	// Untouched sections keep their defaults.
	assert.Len(t, topo.FQs, len(DefaultTopology().FQs))
	assert.Equal(t, 2, topo.Portals)
}

func TestLoadTopologyRoundTrip(t *testing.T) {
	out, err := DefaultTopology().Marshal()
	require.NoError(t, err)
	topo, err := LoadTopology(writeTopology(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, DefaultTopology(), topo)
}

func TestLoadTopologyErrors(t *testing.T) {
	_, err := LoadTopology(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadTopology(writeTopology(t, "portals: [1, 2"))
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Topology)
		want   string
	}{
		{"one portal", func(t *Topology) { t.Portals = 1 }, "portals"},
		{"bad memory size", func(t *Topology) { t.Memory.Size = "lots" }, "memory.size"},
		{"duplicate channel", func(t *Topology) { t.Channels = append(t.Channels, ChannelSpec{ID: 1}) }, "duplicate"},
		{"no channels", func(t *Topology) { t.Channels = nil }, "channel"},
		{"unknown channel", func(t *Topology) { t.FQs[0].Channel = 9 }, "unknown channel"},
		{"work queue", func(t *Topology) { t.FQs[0].WQ = 8 }, "work queue"},
		{"duplicate fq", func(t *Topology) { t.FQs[1].ID = t.FQs[0].ID }, "duplicate"},
		{"no fqs", func(t *Topology) { t.FQs = nil }, "fqs"},
		{"pool without buffers", func(t *Topology) { t.Pools[0].Buffers = 0 }, "needs buffers"},
		{"pools exceed memory", func(t *Topology) { t.Memory.Size = "1MiB" }, "buffer memory"},
		{"qd unknown fq", func(t *Topology) { t.QDs[0].FQs[1] = []uint32{0x999} }, "unknown fq"},
		{"qd without priorities", func(t *Topology) { t.QDs[0].FQs = nil }, "priorities"},
		{"duplicate qd", func(t *Topology) { t.QDs = append(t.QDs, t.QDs[0]) }, "duplicate"},
		{"unknown traffic qd", func(t *Topology) { t.Traffic.QD = 9 }, "unknown qd"},
		{"no frames", func(t *Topology) { t.Traffic.Frames = 0 }, "traffic.frames"},
		{"unknown pool", func(t *Topology) { t.Traffic.Pool = 3 }, "unknown pool"},
		{"frame exceeds buffer", func(t *Topology) { t.Traffic.FrameSize = "4KiB" }, "exceeds buffer"},
		{"frame too small", func(t *Topology) { t.Traffic.FrameSize = "4B" }, "sequence number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := DefaultTopology()
			tt.modify(topo)
			assert.ErrorContains(t, topo.Validate(), tt.want)
		})
	}
}
