package pcap

import (
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// FindAllDevs list the interfaces a handle can be opened on, followed by the
// "any" pseudo-device. The description is the link alias, when one is set.
func FindAllDevs() ([]Device, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, "netlink list")
	}
	devs := make([]Device, 0, len(links)+1)
	for _, l := range links {
		attrs := l.Attrs()
		devs = append(devs, Device{Name: attrs.Name, Description: attrs.Alias})
	}
	devs = append(devs, Device{Name: AnyDevice, Description: "Pseudo-device that captures on all interfaces"})
	return devs, nil
}
