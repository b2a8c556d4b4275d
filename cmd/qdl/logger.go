package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// glogLogger adapts glog to logging.Logger. Debug messages need -v=1 (or --debug).
type glogLogger struct{}

func (glogLogger) Debug(msg string, keysAndValues ...interface{}) {
	if glog.V(1) {
		glog.InfoDepth(1, render(msg, keysAndValues))
	}
}

func (glogLogger) Info(msg string, keysAndValues ...interface{}) {
	glog.InfoDepth(1, render(msg, keysAndValues))
}

func (glogLogger) Error(msg string, keysAndValues ...interface{}) {
	glog.ErrorDepth(1, render(msg, keysAndValues))
}

func render(msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 == len(keysAndValues) {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}

// deviceLog returns the sink for programmer log lines. With a path the lines
// go to a rotating transcript; without, they are logged at -v=1.
func deviceLog(path string) (func(line string), io.Closer) {
	if path == "" {
		return func(line string) {
			if glog.V(1) {
				glog.Infof("device: %s", line)
			}
		}, io.NopCloser(nil)
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 3,
	}
	return func(line string) {
		fmt.Fprintf(w, "%s %s\n", time.Now().Format(time.RFC3339Nano), line)
	}, w
}
