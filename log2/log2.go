// Package log2 is a thin leveled wrapper around stdlib log.
// It exists to filter debug chatter from the protocol layers and to
// redirect component logs into t.Logf during parallel tests.
// Level changes are safe under concurrent logging.
package log2

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
	LAll Level = math.MaxInt32
)

// FmtFunc is the printf shape shared by log.Printf and testing.TB.Logf.
type FmtFunc func(format string, args ...interface{})

// Log methods on a nil *Log are no-ops, so "logging disabled" is just nil.
type Log struct {
	l      *log.Logger
	w      io.Writer
	level  Level
	fatalf FmtFunc
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

func NewWriter(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		w:     w,
		level: level,
	}
}

type fmtWriter struct{ f FmtFunc }

func (fw fmtWriter) Write(b []byte) (int, error) {
	fw.f(string(b))
	return len(b), nil
}

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(fmtWriter{f}, level) }

// NewTest routes into t.Logf and makes Fatalf fail the test.
func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	return l
}

// Clone returns a new logger to the same destination with another level.
func (self *Log) Clone(level Level) *Log {
	if self == nil {
		return nil
	}
	l := NewWriter(self.w, level)
	l.l.SetFlags(self.l.Flags())
	l.fatalf = self.fatalf
	return l
}

func (self *Log) SetLevel(level Level) {
	if self == nil {
		return
	}
	atomic.StoreInt32((*int32)(&self.level), int32(level))
}

func (self *Log) SetFlags(f int) {
	if self == nil {
		return
	}
	self.l.SetFlags(f)
}

func (self *Log) SetPrefix(prefix string) {
	if self == nil {
		return
	}
	self.l.SetPrefix(prefix)
}

func (self *Log) Enabled(level Level) bool {
	if self == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&self.level)) >= int32(level)
}

func (self *Log) Logf(level Level, format string, args ...interface{}) {
	if self.Enabled(level) {
		self.l.Output(3, fmt.Sprintf(format, args...))
	}
}

// Printf and Println satisfy third-party logger interfaces
// (e.g. the paho MQTT trace hooks), mapped to Info level.
func (self *Log) Printf(format string, args ...interface{}) { self.Logf(LInfo, format, args...) }
func (self *Log) Println(args ...interface{})               { self.Infof("%s", fmt.Sprintln(args...)) }

func (self *Log) Errorf(format string, args ...interface{}) {
	self.Logf(LError, "error: "+format, args...)
}
func (self *Log) Error(args ...interface{}) { self.Errorf("%s", fmt.Sprint(args...)) }

func (self *Log) Infof(format string, args ...interface{}) {
	self.Logf(LInfo, format, args...)
}
func (self *Log) Info(args ...interface{}) { self.Infof("%s", fmt.Sprint(args...)) }

func (self *Log) Debugf(format string, args ...interface{}) {
	self.Logf(LDebug, "debug: "+format, args...)
}
func (self *Log) Debug(args ...interface{}) { self.Debugf("%s", fmt.Sprint(args...)) }

func (self *Log) Fatalf(format string, args ...interface{}) {
	if self != nil && self.fatalf != nil {
		self.fatalf(format, args...)
		return
	}
	self.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}
func (self *Log) Fatal(args ...interface{}) { self.Fatalf("%s", fmt.Sprint(args...)) }
