//go:build unix && !linux && !darwin

package reactor

// newPlatformBackend on the remaining unix targets (FreeBSD, OpenBSD,
// NetBSD, Solaris, ...) supports only the portable poll(2) path. Solaris's
// native event_ports(3C) and a dedicated select(2) path are not
// implemented; see DESIGN.md for the scope cut and SPEC_FULL.md §9 for the
// resolution ("select" aliases to poll everywhere).
func newPlatformBackend(name string) (Backend, error) {
	switch name {
	case "", "auto", "poll", "select":
		return newPollBackend(), nil
	default:
		return nil, ErrBackendUnavailable
	}
}
