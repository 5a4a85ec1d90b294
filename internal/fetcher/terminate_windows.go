//go:build windows

package fetcher

import "os"

// Windows has no SIGTERM for console programs started this way.
func terminate(p *os.Process) error {
	return p.Kill() //nolint:wrapcheck
}
