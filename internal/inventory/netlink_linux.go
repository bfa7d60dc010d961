//go:build linux

package inventory

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// netlinkInventory implements Inventory via the kernel netlink API.
type netlinkInventory struct{}

// New creates an Inventory backed by netlink.
func New() Inventory {
	return &netlinkInventory{}
}

// Exists reports whether a device with the given name is present.
func (n *netlinkInventory) Exists(name string) (bool, error) {
	_, err := netlink.LinkByName(name)
	if err != nil {
		if _, ok := err.(netlink.LinkNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up interface %s: %w", name, err)
	}
	return true, nil
}

// List enumerates the available devices.
func (n *netlinkInventory) List() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	ifaces := make([]Interface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		ifaces = append(ifaces, Interface{
			Name: attrs.Name,
			Up:   attrs.Flags&net.FlagUp != 0,
			Type: link.Type(),
		})
	}
	return ifaces, nil
}

// Subscribe delivers device state changes until done is closed.
func Subscribe(done <-chan struct{}) (<-chan Event, error) {
	updates := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return nil, fmt.Errorf("failed to subscribe to link updates: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				attrs := update.Link.Attrs()
				events <- Event{
					Name: attrs.Name,
					Up:   attrs.Flags&net.FlagUp != 0,
				}
			case <-done:
				return
			}
		}
	}()

	return events, nil
}
