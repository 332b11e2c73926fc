package logging

import "github.com/pressly/goose/v3"

// TwinLoggerGoose routes migration output through the twin logger.
type TwinLoggerGoose struct {
}

var _ goose.Logger = (*TwinLoggerGoose)(nil)

func (p TwinLoggerGoose) Fatalf(format string, v ...interface{}) {
	Fatalf(format, v...)
}

func (p TwinLoggerGoose) Printf(format string, v ...interface{}) {
	Debugf(format, v...)
}
