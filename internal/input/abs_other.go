//go:build !linux

package input

import (
	"errors"
	"os"
)

func queryAxis(*os.File, uint16) (AxisRange, error) {
	return AxisRange{}, errors.ErrUnsupported
}
