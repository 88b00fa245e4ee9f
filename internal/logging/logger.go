// Package logging provides the Logger interface pkg/linhash uses to report
// recoverable corruption without taking a dependency on any one logging
// backend.
package logging

import "github.com/aristanetworks/glog"

// Logger is a generic logging interface so pkg/linhash can log without
// depending on glog directly.
type Logger interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

// Glog implements Logger on top of github.com/aristanetworks/glog.
type Glog struct {
	// InfoLevel gates Info/Infof behind glog.V. Default 0.
	InfoLevel glog.Level
}

func (g *Glog) Info(args ...interface{}) {
	glog.V(g.InfoLevel).Info(args...)
}

func (g *Glog) Infof(format string, args ...interface{}) {
	glog.V(g.InfoLevel).Infof(format, args...)
}

func (g *Glog) Warning(args ...interface{}) {
	glog.Warning(args...)
}

func (g *Glog) Warningf(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}

func (g *Glog) Error(args ...interface{}) {
	glog.Error(args...)
}

func (g *Glog) Errorf(format string, args ...interface{}) {
	glog.Errorf(format, args...)
}

var _ Logger = (*Glog)(nil)

// noop discards everything. Used as the default Logger so callers who don't
// care about logging don't have to wire one up.
type noop struct{}

func (noop) Info(args ...interface{})                 {}
func (noop) Infof(format string, args ...interface{}) {}
func (noop) Warning(args ...interface{})              {}
func (noop) Warningf(format string, args ...interface{}) {
}
func (noop) Error(args ...interface{})                 {}
func (noop) Errorf(format string, args ...interface{}) {}

// Noop returns a Logger that discards everything.
func Noop() Logger { return noop{} }

var _ Logger = noop{}
