//go:build !linux

package svcwrap

import (
	"fmt"

	"go.uber.org/zap"
)

func newSystemdHost(_ Config, _ *zap.Logger) (ServiceHost, error) {
	return nil, fmt.Errorf("%w: systemd is only supported on Linux", ErrUnsupported)
}
