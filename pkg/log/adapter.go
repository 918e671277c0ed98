// Package log bridges the application logger into the logging interfaces
// third-party components expect: the standard library logger used by
// http.Server and the hclog logger used by the ledger client.
package log

import (
	"io"
	stdlog "log"
	"strings"

	"github.com/hamba/pkg/log"
	"github.com/hashicorp/go-hclog"
)

// Level is the log level that will be used.
type Level int

// The log level constants.
const (
	Debug Level = iota
	Info
	Error
)

// Bridge is a log bridge to a standard logger.
type Bridge struct {
	log    log.Logger
	lvl    Level
	prefix string
}

// NewBridge returns a standard logger writing through the application
// logger at the given level.
func NewBridge(l log.Logger, lvl Level, prefix string) *stdlog.Logger {
	adpt := &Bridge{
		log:    l,
		lvl:    lvl,
		prefix: prefix,
	}

	return stdlog.New(adpt, "", 0)
}

// Write writes a log line.
func (b *Bridge) Write(p []byte) (n int, err error) {
	line := b.prefix + strings.TrimRight(string(p), "\n")

	switch b.lvl {
	case Debug:
		b.log.Debug(line)
	case Error:
		b.log.Error(line)
	default:
		b.log.Info(line)
	}

	return len(p), nil
}

// HCLBridge is a log bridge to an hcl logger.
type HCLBridge struct {
	log    log.Logger
	prefix string
	ctx    []interface{}
}

// NewHCLBridge returns an hcl logger writing through the application
// logger.
func NewHCLBridge(l log.Logger, prefix string) hclog.Logger {
	return &HCLBridge{
		log:    l,
		prefix: prefix,
	}
}

func (h *HCLBridge) Trace(msg string, args ...interface{}) {
	h.log.Debug(h.prefix+msg, append(h.ctx, args...)...)
}

func (h *HCLBridge) Debug(msg string, args ...interface{}) {
	h.log.Debug(h.prefix+msg, append(h.ctx, args...)...)
}

func (h *HCLBridge) Info(msg string, args ...interface{}) {
	h.log.Info(h.prefix+msg, append(h.ctx, args...)...)
}

func (h *HCLBridge) Warn(msg string, args ...interface{}) {
	h.log.Info(h.prefix+msg, append(h.ctx, args...)...)
}

func (h *HCLBridge) Error(msg string, args ...interface{}) {
	h.log.Error(h.prefix+msg, append(h.ctx, args...)...)
}

func (h *HCLBridge) IsTrace() bool { return true }

func (h *HCLBridge) IsDebug() bool { return true }

func (h *HCLBridge) IsInfo() bool { return true }

func (h *HCLBridge) IsWarn() bool { return true }

func (h *HCLBridge) IsError() bool { return true }

// With returns a logger carrying the given context on every line.
func (h *HCLBridge) With(args ...interface{}) hclog.Logger {
	ctx := make([]interface{}, 0, len(h.ctx)+len(args))
	ctx = append(ctx, h.ctx...)
	ctx = append(ctx, args...)

	return &HCLBridge{
		log:    h.log,
		prefix: h.prefix,
		ctx:    ctx,
	}
}

func (h *HCLBridge) Named(name string) hclog.Logger {
	return &HCLBridge{
		log:    h.log,
		prefix: h.prefix + name + ": ",
		ctx:    h.ctx,
	}
}

func (h *HCLBridge) ResetNamed(name string) hclog.Logger {
	return &HCLBridge{
		log:    h.log,
		prefix: name + ": ",
		ctx:    h.ctx,
	}
}

func (h *HCLBridge) SetLevel(level hclog.Level) {}

func (h *HCLBridge) StandardLogger(opts *hclog.StandardLoggerOptions) *stdlog.Logger {
	return NewBridge(h.log, Debug, h.prefix)
}

func (h *HCLBridge) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &Bridge{
		log:    h.log,
		lvl:    Debug,
		prefix: h.prefix,
	}
}
