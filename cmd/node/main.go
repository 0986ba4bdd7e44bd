// Command node starts a lottochain node: a single-authority ledger hosting
// the commit-reveal lottery, with JSON-RPC, a WebSocket feed and metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/consensus"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto/certgen"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/metrics"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/vm"
	"github.com/tolelom/lottochain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/lottochain/vm/modules/economy"
	_ "github.com/tolelom/lottochain/vm/modules/lottery"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file (.json or .toml)")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate an RPC CA plus server and client certs into the given directory and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.SetupLogging(nil); err != nil {
		log.Fatal().Err(err).Msg("log setup")
	}
	logger := log.With().Str("component", "node").Logger()

	// Read keystore password from environment (not CLI flags: they leak via ps).
	password := os.Getenv("LOTTO_PASSWORD")
	if password == "" {
		logger.Warn().Msg("LOTTO_PASSWORD not set, keystore uses an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			logger.Fatal().Err(err).Msg("generate key")
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			logger.Fatal().Err(err).Msg("save key")
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		if err := certgen.GenerateAll(*genCerts, nil); err != nil {
			logger.Fatal().Err(err).Msg("gencerts")
		}
		fmt.Printf("Certificates generated in %s\n", *genCerts)
		return
	}

	if err := run(cfg, *keyPath, password); err != nil {
		logger.Fatal().Err(err).Msg("node stopped")
	}
}

func run(cfg *config.Config, keyPath, password string) error {
	logger := log.With().Str("component", "node").Logger()

	privKey, err := wallet.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.Open(cfg.DBBackend, filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// One DB, disjoint key prefixes for state, blocks and indexes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	clk := clock.New()

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey, clk.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info().Str("hash", genesisBlock.Hash).Msg("genesis block committed")
	}

	machine, err := lotto.NewMachine(cfg.Lotto.Params())
	if err != nil {
		return err
	}

	emitter := events.NewEmitter()
	m := metrics.New(prometheus.DefaultRegisterer)
	m.Attach(emitter)
	m.BlockHeight.Set(float64(bc.Height()))
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool(clk)
	exec := vm.NewExecutor(state, emitter, machine, cfg.Genesis.ChainID)
	poa := consensus.New(cfg, bc, mempool, exec, emitter, privKey, clk)

	// ---- RPC ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	opts := []rpc.Option{
		rpc.WithHub(rpc.NewHub(emitter, m)),
		rpc.WithMetrics(m, prometheus.DefaultGatherer),
	}
	if tlsCfg != nil {
		opts = append(opts, rpc.WithTLS(tlsCfg))
	}
	rpcHandler := rpc.NewHandler(bc, mempool, exec, idx, poa, cfg.Genesis.ChainID)
	rpcServer := rpc.NewServer(fmt.Sprintf(":%d", cfg.RPCPort), rpcHandler, cfg.RPCAuthToken, opts...)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer rpcServer.Stop()
	logger.Info().Str("addr", rpcServer.Addr()).Bool("tls", tlsCfg != nil).
		Bool("auth", cfg.RPCAuthToken != "").Msg("rpc listening")

	// ---- consensus loop ----
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(ctx, time.Duration(cfg.BlockInterval))
	}()
	logger.Info().Str("validator", privKey.Public().Hex()).Bool("proposer", poa.IsProposer()).
		Uint64("entry_fee", cfg.Lotto.EntryFee).Strs("modules", vm.InstalledModules()).Msg("consensus running")

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	// Stop consensus first so no block is half-written when the DB closes.
	cancel()
	wg.Wait()
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
