package service

import (
	"io"
	"os"

	"github.com/torfstack/twin/internal/config"
)

type Service struct {
	cfg config.Config
	out io.Writer
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg, out: os.Stdout}
}

// WithOutput redirects user facing output, stdout by default.
func (s *Service) WithOutput(w io.Writer) *Service {
	s.out = w
	return s
}

func (s *Service) Config() config.Config {
	return s.cfg
}
