package gpu

import "github.com/cockroachdb/errors"

var (
	ErrDeviceLost      = errors.New("device lost")
	ErrOutOfMemory     = errors.New("out of device memory")
	ErrInvalidState    = errors.New("invalid object state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("unsupported")
	ErrNoAdapter       = errors.New("no suitable adapter")
	ErrTimeout         = errors.New("timeout")
)

// IsDeviceLost reports whether err was caused by a lost or removed device.
func IsDeviceLost(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
