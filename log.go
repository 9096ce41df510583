// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package posixio

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func newLogger(level string) log.FieldLogger {
	l := log.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.WarnLevel
	}
	l.SetLevel(lvl)
	return l
}

// debugf logs only when the logger would emit debug output, keeping
// formatting off hot paths.
func debugf(l log.FieldLogger, format string, args ...any) {
	if e, ok := l.(*log.Logger); ok && !e.IsLevelEnabled(log.DebugLevel) {
		return
	}
	if e, ok := l.(*log.Entry); ok && !e.Logger.IsLevelEnabled(log.DebugLevel) {
		return
	}
	l.Debugf(format, args...)
}
