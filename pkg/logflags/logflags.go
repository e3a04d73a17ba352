package logflags

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var session = false
var events = false
var stopper = false
var codeObject = false
var wire = false

var logOut io.Writer
var noColors bool

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Formatter = &logrus.TextFormatter{DisableColors: noColors, FullTimestamp: true}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	return logger
}

// SessionLogger returns a logger for the debug session event loop.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

// EventsLogger returns a logger for the event dispatcher.
func EventsLogger() *logrus.Entry {
	return makeLogger(events, logrus.Fields{"layer": "events"})
}

// StopperLogger returns a logger for the wave stop coordinator.
func StopperLogger() *logrus.Entry {
	return makeLogger(stopper, logrus.Fields{"layer": "stopper"})
}

// CodeObjectLogger returns a logger for the code object loader.
func CodeObjectLogger() *logrus.Entry {
	return makeLogger(codeObject, logrus.Fields{"layer": "codeobject"})
}

// WireLogger returns a logger for debug API attachment messages.
func WireLogger() *logrus.Entry {
	return makeLogger(wire, logrus.Fields{"layer": "wire"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// SetOutput redirects all loggers created after this call to w.
func SetOutput(w io.Writer) {
	logOut = w
}

// SetNoColors disables colored log output, for destinations that are not a
// terminal.
func SetNoColors(v bool) {
	noColors = v
}

// Setup sets the logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "session":
			session = true
		case "events":
			events = true
		case "stopper":
			stopper = true
		case "codeobject":
			codeObject = true
		case "wire":
			wire = true
		}
	}
	return nil
}
