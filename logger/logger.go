// Package logger wires subsystem-tagged loggers to a rotating log file
// plus stdout, the way the logger package does.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cellnetio/cellchaind/internal/logs"
	"github.com/jrick/logrotate/rotator"
)

// logWriter writes to stdout and the main log rotator once initialized.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

// errLogWriter writes to stdout and the error log rotator once initialized.
type errLogWriter struct{}

func (errLogWriter) Write(p []byte) (int, error) {
	if initiated {
		os.Stdout.Write(p)
		ErrLogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend is shared by every subsystem
// logger created from it. Loggers must not be used before
// InitLogRotators has run.
var (
	backendLog = logs.NewBackend([]*logs.BackendWriter{
		logs.NewAllLevelsBackendWriter(logWriter{}),
		logs.NewErrorBackendWriter(errLogWriter{}),
	})

	// LogRotator is the main log output. Closed on shutdown.
	LogRotator *rotator.Rotator
	// ErrLogRotator carries error-and-above lines only.
	ErrLogRotator *rotator.Rotator

	chanLog = backendLog.Logger("CHAN") // chain service
	orphLog = backendLog.Logger("ORPH") // orphan pool
	rslvLog = backendLog.Logger("RSLV") // transaction resolver
	txvfLog = backendLog.Logger("TXVF") // transaction verifier
	scrpLog = backendLog.Logger("SCRP") // script verifier
	hdvfLog = backendLog.Logger("HDVF") // header verifier
	epchLog = backendLog.Logger("EPCH") // epoch manager
	storLog = backendLog.Logger("STOR") // store
	cnfgLog = backendLog.Logger("CNFG") // config
	mainLog = backendLog.Logger("MAIN") // cmd entrypoint

	initiated = false
)

// SubsystemTags enumerates every subsystem tag.
var SubsystemTags = struct {
	CHAN,
	ORPH,
	RSLV,
	TXVF,
	SCRP,
	HDVF,
	EPCH,
	STOR,
	CNFG,
	MAIN string
}{
	CHAN: "CHAN",
	ORPH: "ORPH",
	RSLV: "RSLV",
	TXVF: "TXVF",
	SCRP: "SCRP",
	HDVF: "HDVF",
	EPCH: "EPCH",
	STOR: "STOR",
	CNFG: "CNFG",
	MAIN: "MAIN",
}

var subsystemLoggers = map[string]*logs.Logger{
	SubsystemTags.CHAN: chanLog,
	SubsystemTags.ORPH: orphLog,
	SubsystemTags.RSLV: rslvLog,
	SubsystemTags.TXVF: txvfLog,
	SubsystemTags.SCRP: scrpLog,
	SubsystemTags.HDVF: hdvfLog,
	SubsystemTags.EPCH: epchLog,
	SubsystemTags.STOR: storLog,
	SubsystemTags.CNFG: cnfgLog,
	SubsystemTags.MAIN: mainLog,
}

// InitLogRotators must be called once, before any subsystem logger is
// used, to point the backend at real files.
func InitLogRotators(logFile, errLogFile string) {
	initiated = true
	LogRotator = initLogRotator(logFile)
	ErrLogRotator = initLogRotator(errLogFile)
}

func initLogRotator(logFile string) *rotator.Rotator {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	return r
}

// SetLogLevel sets the level for one subsystem. Unknown tags are
// ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := logs.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets every subsystem logger to logLevel.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns the sorted set of known subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		subsystems = append(subsystems, id)
	}
	sort.Strings(subsystems)
	return subsystems
}

// Get returns the logger registered for tag, if any.
func Get(tag string) (*logs.Logger, bool) {
	logger, ok := subsystemLoggers[tag]
	return logger, ok
}

// ParseAndSetDebugLevels parses a debug-level spec, either a bare level
// ("info") applied to every subsystem, or a comma-separated list of
// subsystem=level pairs.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(pair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", pair)
		}
		fields := strings.Split(pair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}
