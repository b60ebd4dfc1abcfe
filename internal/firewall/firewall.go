// Package firewall is a minimal-contract stand-in for the firewall-port
// utility, an external collaborator out of scope for this repository.
// Nothing in the retrieval pack grounds a concrete OS-level firewall
// technique, so only the no-op default is implemented.
package firewall

// PortOpener ensures a listening port is reachable through whatever
// firewall the host runs. No concrete implementation ships here.
type PortOpener interface {
	EnsureOpen(port int) error
}

// Noop never touches the host firewall; it is the default PortOpener.
type Noop struct{}

func (Noop) EnsureOpen(int) error { return nil }
