package mmio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SysfsUIO is where the kernel lists UIO devices.
const SysfsUIO = "/sys/class/uio"

// UIO describes one UIO device found in sysfs.
type UIO struct {
	Name    string // driver-provided name, e.g. "dpio.3"
	Dev     string // device node, e.g. /dev/uio3
	Version string
	Maps    []int64 // size of each memory map in bytes
}

// Layout returns the window layout for a portal exposing its cache-enabled
// area as map 0 and its register file as map 1.
func (u UIO) Layout() (Layout, error) {
	if len(u.Maps) < 2 {
		return Layout{}, fmt.Errorf("mmio: %s has %d maps, need 2", u.Dev, len(u.Maps))
	}
	l := UIOLayout()
	l.CENASize = int(u.Maps[0])
	l.CINHSize = int(u.Maps[1])
	return l, nil
}

// ScanUIO lists the UIO devices under root (normally SysfsUIO) whose name
// starts with prefix.
func ScanUIO(root, prefix string) ([]UIO, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []UIO
	for _, ent := range entries {
		dir := filepath.Join(root, ent.Name())
		name, err := readAttr(dir, "name")
		if err != nil || !strings.HasPrefix(name, prefix) {
			continue
		}
		u := UIO{Name: name, Dev: filepath.Join("/dev", ent.Name())}
		u.Version, _ = readAttr(dir, "version")
		for i := 0; ; i++ {
			s, err := readAttr(dir, fmt.Sprintf("maps/map%d/size", i))
			if err != nil {
				break
			}
			size, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("mmio: %s map%d size %q: %w", dir, i, s, err)
			}
			u.Maps = append(u.Maps, size)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dev < out[j].Dev })
	return out, nil
}

func readAttr(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
