package qbman

import (
	"go.uber.org/multierr"

	"github.com/ehrlich-b/go-qbman/internal/constants"
	"github.com/ehrlich-b/go-qbman/internal/interfaces"
	"github.com/ehrlich-b/go-qbman/internal/logging"
	"github.com/ehrlich-b/go-qbman/internal/mmio"
	"github.com/ehrlich-b/go-qbman/internal/uring"
)

// Layout locates a portal's cache-enabled and cache-inhibited windows within
// its device file.
type Layout = mmio.Layout

// Waiter blocks until a portal interrupt fires or a timeout expires.
type Waiter = interfaces.Waiter

// UIOLayout is the layout of a portal exported through UIO: the ring window
// is map 0 and the register file map 1.
func UIOLayout() Layout { return mmio.UIOLayout() }

// DeviceInfo describes a portal device node found in sysfs.
type DeviceInfo struct {
	Name    string // e.g. "dpio.3"
	Path    string // e.g. "/dev/uio3"
	Version string
	Layout  Layout
}

// FindDevices lists the UIO portals whose driver name starts with prefix.
// Devices that do not expose both windows are skipped.
func FindDevices(prefix string) ([]DeviceInfo, error) {
	return findDevices(mmio.SysfsUIO, prefix)
}

func findDevices(root, prefix string) ([]DeviceInfo, error) {
	uios, err := mmio.ScanUIO(root, prefix)
	if err != nil {
		return nil, WrapError("find_devices", err)
	}
	var out []DeviceInfo
	for _, u := range uios {
		l, err := u.Layout()
		if err != nil {
			logging.Default().Debug("skipping device", "dev", u.Dev, "error", err)
			continue
		}
		out = append(out, DeviceInfo{Name: u.Name, Path: u.Dev, Version: u.Version, Layout: l})
	}
	return out, nil
}

// Device is a hardware portal opened through its device node.
type Device struct {
	// Path is the device node, e.g. "/dev/uio3".
	Path string

	// Portal is the initialised portal. It is owned by whoever drives it;
	// the Device only tears it down.
	Portal *Portal

	dev    *mmio.Device
	waiter interfaces.Waiter
	closed bool
}

// DeviceParams selects and configures a portal device.
type DeviceParams struct {
	Path   string
	Layout Layout // zero selects UIOLayout

	// Portal identity; Revision zero selects RevisionV4100.
	Index            int
	Revision         uint32
	TimeoutQuantumNs uint32

	// Interrupts opens an interrupt waiter on the device descriptor.
	// InterruptPoll uses poll(2) instead of io_uring.
	Interrupts    bool
	InterruptPoll bool
}

// DefaultParams returns parameters for the UIO device at path.
func DefaultParams(path string) DeviceParams {
	return DeviceParams{
		Path:       path,
		Layout:     mmio.UIOLayout(),
		Revision:   constants.RevisionV4100,
		Interrupts: true,
	}
}

// OpenDevice maps the portal at params.Path and initialises it.
//
// Example:
//
//	devs, _ := qbman.FindDevices("dpio")
//	d, err := qbman.OpenDevice(qbman.DefaultParams(devs[0].Path), nil)
//	if err != nil {
//		return err
//	}
//	defer d.Close()
func OpenDevice(params DeviceParams, opts *Options) (*Device, error) {
	if params.Path == "" {
		return nil, NewPortalError("open", params.Index, ErrCodeInvalidArgument, "device path required")
	}
	if params.Layout == (Layout{}) {
		params.Layout = mmio.UIOLayout()
	}
	if params.Revision == 0 {
		params.Revision = constants.RevisionV4100
	}
	log := logging.Default().WithPortal(params.Index)

	dev, err := mmio.Open(params.Path, params.Layout)
	if err != nil {
		return nil, WrapError("open", err)
	}

	p, err := Init(Descriptor{
		Index:            params.Index,
		Revision:         params.Revision,
		CENA:             dev,
		CINH:             dev,
		TimeoutQuantumNs: params.TimeoutQuantumNs,
	}, opts)
	if err != nil {
		dev.Close()
		return nil, err
	}

	d := &Device{Path: params.Path, Portal: p, dev: dev}
	if params.Interrupts {
		d.waiter, err = uring.New(uring.Config{FD: dev.Fd(), Poll: params.InterruptPoll})
		if err != nil {
			p.Finish()
			dev.Close()
			return nil, WrapError("open", err)
		}
	}

	log.Info("device opened", "path", params.Path, "interrupts", params.Interrupts)
	return d, nil
}

// Waiter returns the device's interrupt waiter, or nil when interrupts were
// not requested.
func (d *Device) Waiter() Waiter { return d.waiter }

// Wait blocks until the portal interrupt fires or timeoutNs elapses; a
// negative timeout waits indefinitely.
func (d *Device) Wait(timeoutNs int64) (bool, error) {
	if d.waiter == nil {
		return false, NewPortalError("wait", d.Portal.Descriptor().Index, ErrCodeInvalidArgument, "interrupts not enabled")
	}
	return d.waiter.Wait(timeoutNs)
}

// Close finishes the portal and unmaps the device. It is safe to call more
// than once.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.Portal.Finish()

	var err error
	if d.waiter != nil {
		err = multierr.Append(err, d.waiter.Close())
	}
	err = multierr.Append(err, d.dev.Close())
	if err != nil {
		return WrapError("close", err)
	}
	logging.Default().WithPortal(d.Portal.Descriptor().Index).Info("device closed", "path", d.Path)
	return nil
}
