// Package config parses cellchaind's command-line and file
// configuration with go-flags, the way the cmd configs do.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/jessevdk/go-flags"

	"github.com/cellnetio/cellchaind/logger"
)

const (
	defaultLogFilename    = "cellchaind.log"
	defaultErrLogFilename = "cellchaind_err.log"
	defaultDataDirname    = "data"
	defaultDebugLevel     = "info"
	defaultMaxOrphans     = 1000
	defaultMaxBlockBytes  = 2 * 1024 * 1024
	defaultMaxBlockCycles = 3_500_000_000
)

// Config holds every flag cellchaind accepts.
type Config struct {
	HomeDir        string `long:"appdir" description:"Directory to store data and logs"`
	DataDir        string `long:"datadir" description:"Directory to store the cell/header/block database"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	DebugLevel     string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- Alternatively, level specifications of the form <subsystem>=<level>,<subsystem2>=<level2>,... can be used"`
	MaxOrphans     int    `long:"maxorphans" description:"Maximum number of orphan blocks (validated only; the orphan pool uses its fixed default capacity)"`
	MaxBlockBytes  uint64 `long:"maxblockbytes" description:"Maximum serialized size in bytes for a block's transactions"`
	MaxBlockCycles uint64 `long:"maxblockcycles" description:"Maximum cumulative VM cycles spent verifying a block's transactions"`
	NetworkID      string `long:"network" description:"Network to connect to: mainnet, testnet, devnet" default:"mainnet"`

	subsystemLoggers map[string]bool
}

func defaultHomeDir() string {
	appData := os.Getenv("LOCALAPPDATA")
	if runtime.GOOS == "windows" && appData != "" {
		return filepath.Join(appData, "cellchaind")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".cellchaind")
}

// Parse reads command-line arguments into a Config, applying defaults
// and validating cross-field constraints.
func Parse() (*Config, error) {
	cfg := &Config{
		HomeDir:        defaultHomeDir(),
		DebugLevel:     defaultDebugLevel,
		MaxOrphans:     defaultMaxOrphans,
		MaxBlockBytes:  defaultMaxBlockBytes,
		MaxBlockCycles: defaultMaxBlockCycles,
		NetworkID:      "mainnet",
	}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.HomeDir, defaultDataDirname)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = cfg.HomeDir
	}

	if cfg.MaxOrphans < 0 {
		return nil, fmt.Errorf("--maxorphans may not be negative")
	}

	switch cfg.NetworkID {
	case "mainnet", "testnet", "devnet":
	default:
		return nil, fmt.Errorf("--network must be one of mainnet, testnet, devnet, got %q", cfg.NetworkID)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	errLogFile := filepath.Join(cfg.LogDir, defaultErrLogFilename)
	logger.InitLogRotators(logFile, errLogFile)

	if err := logger.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}
