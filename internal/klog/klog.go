// Package klog is the kernel's logging façade: a thin wrapper over
// github.com/sirupsen/logrus, level-gated by the LOG environment variable.
// The kernel's five levels (Error/Warn/Info/Debug/Trace) match logrus's
// own level set exactly, which is why logrus rather than zerolog or stdlib
// slog carries this kernel's ambient logging.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(os.Getenv("LOG"))
	if err != nil {
		level = logrus.InfoLevel
	}
	root.SetLevel(level)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Subsystem is a logger tagged with one kernel subsystem name (kernel,
// syscall, sched, fs, task), so every line says which layer emitted it.
type Subsystem struct {
	entry *logrus.Entry
}

// For returns a Subsystem logger tagged with name.
func For(name string) *Subsystem {
	return &Subsystem{entry: root.WithField("subsystem", name)}
}

func (s *Subsystem) Error(args ...interface{}) { s.entry.Error(args...) }
func (s *Subsystem) Warn(args ...interface{})  { s.entry.Warn(args...) }
func (s *Subsystem) Info(args ...interface{})  { s.entry.Info(args...) }
func (s *Subsystem) Debug(args ...interface{}) { s.entry.Debug(args...) }
func (s *Subsystem) Trace(args ...interface{}) { s.entry.Trace(args...) }

func (s *Subsystem) Errorf(format string, args ...interface{}) { s.entry.Errorf(format, args...) }
func (s *Subsystem) Warnf(format string, args ...interface{})  { s.entry.Warnf(format, args...) }
func (s *Subsystem) Infof(format string, args ...interface{})  { s.entry.Infof(format, args...) }
func (s *Subsystem) Debugf(format string, args ...interface{}) { s.entry.Debugf(format, args...) }
func (s *Subsystem) Tracef(format string, args ...interface{}) { s.entry.Tracef(format, args...) }

// SetLevel overrides the parsed LOG env var; used by cmd/kernel's
// --log-level flag.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(l)
	return nil
}
