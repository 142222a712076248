// cellchaind is the thin composition root for the chain core: parse
// config, open the store, resolve consensus parameters, construct and
// run chain.Service until an interrupt arrives. Grounded on
// kaspad.go's (newKaspad/start/stop) overall construct-then-serve-
// until-signal shape, simplified to this binary's single long-running
// service instead of kaspad's full node.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cellnetio/cellchaind/chain"
	"github.com/cellnetio/cellchaind/config"
	"github.com/cellnetio/cellchaind/logger"
	"github.com/cellnetio/cellchaind/store/leveldb"
)

var mainLog, _ = logger.Get(logger.SubsystemTags.MAIN)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse()
	if err != nil {
		// go-flags already printed usage or the parse error.
		return 1
	}

	dbPath := filepath.Join(cfg.DataDir, "chain")
	db, err := leveldb.Open(dbPath)
	if err != nil {
		mainLog.Errorf("opening store at %s: %+v", dbPath, err)
		return 1
	}
	defer db.Close()

	consensus, err := cfg.Consensus()
	if err != nil {
		mainLog.Errorf("resolving consensus parameters: %+v", err)
		return 1
	}
	consensus.MaxBlockBytes = cfg.MaxBlockBytes
	consensus.MaxBlockCycles = cfg.MaxBlockCycles

	service, err := chain.NewService(db, consensus, sha256dPow{}, acceptVM{})
	if err != nil {
		mainLog.Errorf("starting chain service: %+v", err)
		return 1
	}
	defer service.Close()

	mainLog.Infof("cellchaind started on %s, data dir %s", cfg.NetworkID, cfg.DataDir)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	mainLog.Infof("cellchaind shutting down")
	return 0
}
