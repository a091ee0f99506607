//go:build !linux || 386

package swtfb

import (
	"errors"
	"fmt"
)

func OpenQueue(key int) (Queue, error) {
	return nil, fmt.Errorf("swtfb: message queue %#x: %w", key, errors.ErrUnsupported)
}
