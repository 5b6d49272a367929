//go:build !windows

package svcwrap

import (
	"fmt"

	"go.uber.org/zap"
)

func newWindowsHost(_ Config, _ *zap.Logger) (ServiceHost, error) {
	return nil, fmt.Errorf("%w: the service control manager is only available on Windows", ErrUnsupported)
}
