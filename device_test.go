package qbman

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-qbman/internal/mmio"
	"github.com/ehrlich-b/go-qbman/internal/uapi"
)

// fileLayout puts the register window on the first page boundary after the
// ring window so a plain file can stand in for the device.
func fileLayout() Layout {
	page := int64(os.Getpagesize())
	off := (mmio.CENASize + page - 1) / page * page
	return Layout{CENASize: mmio.CENASize, CINHOffset: off, CINHSize: mmio.CINHSize}
}

func deviceFile(t *testing.T, l Layout) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uio0")
	require.NoError(t, os.WriteFile(path, make([]byte, l.CINHOffset+int64(l.CINHSize)), 0o600))
	return path
}

func TestOpenDevice(t *testing.T) {
	l := fileLayout()
	path := deviceFile(t, l)

	params := DefaultParams(path)
	params.Layout = l
	params.Index = 3
	params.Interrupts = false
	d, err := OpenDevice(params, nil)
	require.NoError(t, err)

	assert.Equal(t, path, d.Path)
	assert.Equal(t, 3, d.Portal.Descriptor().Index)
	assert.Nil(t, d.Waiter())
	_, err = d.Wait(0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, d.Portal.Enqueue(func() *EqDesc {
		eq := NewEqDesc()
		eq.SetFQ(7)
		return eq
	}(), testFD(0x11223344, 64)))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	// The enqueue command reached the file and Close disabled the portal.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := binary.LittleEndian.Uint32(b[l.CINHOffset+uapi.CINHCFG:])
	assert.Zero(t, cfg&uapi.CFGEnable)
	slot := int64(uapi.CENAEQCR(0))
	assert.NotZero(t, b[slot]&uapi.ValidBit)
	addr := slot + 4*int64(uapi.EqFDWord+uapi.FDAddrWord)
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(b[addr:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[l.CINHOffset+uapi.CINHEQCRPI:]))
}

func TestOpenDeviceErrors(t *testing.T) {
	_, err := OpenDevice(DeviceParams{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = OpenDevice(DefaultParams(filepath.Join(t.TempDir(), "missing")), nil)
	assert.ErrorIs(t, err, ErrInit)
	assert.True(t, IsErrno(err, 2), "ENOENT expected, got %v", err)
}

func TestFindDevices(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	}
	write("uio1/name", "dpio.1")
	write("uio1/maps/map0/size", "0x4000")
	write("uio1/maps/map1/size", "0x1000")
	write("uio0/name", "dpio.0")
	write("uio0/maps/map0/size", "0x4000") // register window missing
	write("uio2/name", "vfio-other")

	devs, err := findDevices(root, "dpio")
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "dpio.1", devs[0].Name)
	assert.Equal(t, "/dev/uio1", devs[0].Path)
	assert.Equal(t, mmio.CENASize, devs[0].Layout.CENASize)
	assert.Equal(t, mmio.CINHSize, devs[0].Layout.CINHSize)

	_, err = findDevices(filepath.Join(root, "absent"), "dpio")
	assert.Error(t, err)
}
