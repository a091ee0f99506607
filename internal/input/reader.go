package input

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// reader decodes one device stream until it fails or is closed.
type reader struct {
	class  DeviceClass
	src    io.ReadCloser
	dec    decoder
	logger zerolog.Logger
}

func newReader(class DeviceClass, src io.ReadCloser, logger zerolog.Logger) *reader {
	return &reader{
		class:  class,
		src:    src,
		dec:    newDecoder(class),
		logger: logger.With().Str("device", class.String()).Logger(),
	}
}

// run pushes decoded events through emit. It returns when a read fails;
// emit returning false stops it early.
func (r *reader) run(emit func(Event) bool) {
	for {
		raw, err := readRawEvent(r.src)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, os.ErrClosed):
				r.logger.Debug().Err(err).Msg("input reader finished")
			default:
				r.logger.Warn().Err(err).Msg("input reader stopped")
			}
			return
		}
		for _, ev := range r.dec.decode(raw) {
			if !emit(ev) {
				return
			}
		}
	}
}
