//go:build !windows

package fetcher

import (
	"os"
	"syscall"
)

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM) //nolint:wrapcheck
}
