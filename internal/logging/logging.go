// Package logging builds the hclog root logger shared by every component.
package logging

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/config"
)

func New(cfg config.LogConfig, out io.Writer) hclog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "omnipong",
		Level:      level,
		Output:     out,
		JSONFormat: cfg.JSON,
	})
}

// OrNull returns l, or a logger that discards everything when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}
