//go:build !linux

package inventory

import (
	"fmt"
	"net"
)

// stdInventory implements Inventory with the standard library, for
// platforms without netlink.
type stdInventory struct{}

// New creates an Inventory backed by the standard library.
func New() Inventory {
	return &stdInventory{}
}

func (s *stdInventory) Exists(name string) (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *stdInventory) List() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, Interface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
		})
	}
	return out, nil
}

// Subscribe is not supported without netlink.
func Subscribe(done <-chan struct{}) (<-chan Event, error) {
	return nil, fmt.Errorf("link update subscription is only supported on Linux")
}
