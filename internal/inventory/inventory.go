// Package inventory queries the host's network device list.
package inventory

// Interface describes a network device for diagnostic display.
type Interface struct {
	Name string
	Up   bool
	Type string
}

// Event is a device state change delivered by Subscribe.
type Event struct {
	Name string
	Up   bool
}

// Inventory is the interface to the live device list. Implementations
// query the kernel on every call; interface names are treated as opaque
// strings with no validation beyond existence.
type Inventory interface {
	// Exists reports whether a device with the given name is present.
	Exists(name string) (bool, error)

	// List enumerates the available devices.
	List() ([]Interface, error)
}
