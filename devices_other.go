//go:build !linux

package pcap

import (
	"net"

	"github.com/pkg/errors"
)

// FindAllDevs list the interfaces a handle can be opened on.
func FindAllDevs() ([]Device, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}
	devs := make([]Device, 0, len(ifaces))
	for _, in := range ifaces {
		devs = append(devs, Device{Name: in.Name})
	}
	return devs, nil
}
