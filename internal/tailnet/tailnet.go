// Package tailnet dials the relay sink over an embedded tailscale node, so a
// tablet can reach it without exposing anything on its own network.
package tailnet

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog"
	"tailscale.com/tsnet"
)

type Config struct {
	Hostname string
	StateDir string
	// AuthKey falls back to $TS_AUTHKEY when empty.
	AuthKey   string
	Ephemeral bool
	Logger    zerolog.Logger
}

type Server struct {
	srv *tsnet.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		return nil, errors.New("tailnet: hostname required")
	}
	logger := cfg.Logger.With().Str("component", "tsnet").Logger()
	return &Server{
		srv: &tsnet.Server{
			Hostname:  cfg.Hostname,
			Dir:       cfg.StateDir,
			AuthKey:   cfg.AuthKey,
			Ephemeral: cfg.Ephemeral,
			Logf: func(format string, args ...interface{}) {
				logger.Debug().Msgf(strings.TrimSuffix(format, "\n"), args...)
			},
			UserLogf: func(format string, args ...interface{}) {
				logger.Info().Msgf(strings.TrimSuffix(format, "\n"), args...)
			},
		},
	}, nil
}

// DialContext matches relay.DialContextFunc.
func (s *Server) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return s.srv.Dial(ctx, network, address)
}

// Up blocks until the node is connected or ctx ends.
func (s *Server) Up(ctx context.Context) error {
	_, err := s.srv.Up(ctx)
	return err
}

func (s *Server) Close() error {
	return s.srv.Close()
}
