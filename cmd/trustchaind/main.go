// Package main provides trustchaind - a peer-to-peer trust-chain agent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/trustmesh-net/trustchaind/internal/agent"
	"github.com/trustmesh-net/trustchaind/internal/config"
	"github.com/trustmesh-net/trustchaind/internal/directory"
	"github.com/trustmesh-net/trustchaind/internal/identity"
	"github.com/trustmesh-net/trustchaind/internal/node"
	"github.com/trustmesh-net/trustchaind/internal/rpc"
	"github.com/trustmesh-net/trustchaind/internal/store"
	"github.com/trustmesh-net/trustchaind/internal/wire"
	"github.com/trustmesh-net/trustchaind/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.trustchain", "Data directory")
		configFile     = flag.String("config", "", "Config file path; config.yaml is read from this path's directory (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		rpcAddr        = flag.String("rpc", "127.0.0.1:8090", "Introspection JSON-RPC address")
		directoryURL   = flag.String("directory", "", "Directory JSON-RPC URL, overrides config")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		usePROTECT     = flag.Bool("protect", true, "Use the seven-message PROTECT audit protocol instead of the base protocol")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("trustchaind %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir

	configDir := effectiveDataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir
	cfg.Agent.UsePROTECT = *usePROTECT
	if *directoryURL != "" {
		cfg.Directory.URL = *directoryURL
	}
	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(configDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := config.ExpandPath(cfg.Storage.DataDir)
	id, err := identity.LoadOrCreate(filepath.Join(dataPath, cfg.Identity.KeyFile))
	if err != nil {
		log.Fatal("Failed to load identity", "error", err)
	}
	log.Info("Identity loaded", "peer_id", id.PeerID.String())

	st, err := store.New(&store.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize store", "error", err)
	}
	defer st.Close()

	if _, err := st.CreateGenesis(id.PrivateKey); err != nil {
		log.Fatal("Failed to create genesis block", "error", err)
	}
	log.Info("Store initialized", "path", dataPath)

	var dirClient *directory.Client
	var dirSource *directory.PeerSource
	var dirPeers agent.PeerSource
	if cfg.Directory.URL != "" {
		dirClient = directory.New(cfg.Directory.URL)
		dirSource = directory.NewPeerSource(dirClient, id.Marshaled, log.Component("directory"))
		dirPeers = dirSource
	}

	n, err := node.New(ctx, cfg, st, id, agent.Options{Unauthenticated: cfg.Agent.Unauthenticated}, dirPeers)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	rpcServer := rpc.NewServer(log.Component("rpc"))
	rpc.NewIntrospection(rpcServer, n.Agent(), st)
	if err := rpcServer.Start(*rpcAddr); err != nil {
		log.Fatal("Failed to start introspection RPC", "error", err)
	}

	self := wire.AgentInfo{PublicKey: id.Marshaled, Address: id.PeerID.String(), Type: "trustchain"}
	if dirClient != nil {
		if err := dirClient.Register(ctx, self); err != nil {
			log.Warn("Failed to register with directory", "error", err)
		} else {
			log.Info("Registered with directory", "url", cfg.Directory.URL)
		}
		go dirSource.Run(ctx, cfg.Agent.StepInterval*time.Duration(cfg.Agent.RequestCacheTimeoutMultiplier))
	}

	printBanner(log, n, cfg, *rpcAddr)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	go n.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var expired <-chan time.Time
	if cfg.Agent.ExperimentDuration > 0 {
		expired = time.After(cfg.Agent.ExperimentDuration)
	}
	select {
	case <-sigCh:
	case <-expired:
		log.Info("Experiment duration elapsed")
	}
	log.Info("Shutting down...")

	if dirClient != nil {
		unregisterCtx, unregisterCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dirClient.Unregister(unregisterCtx, self); err != nil {
			log.Error("Failed to unregister from directory", "error", err)
		}
		unregisterCancel()
	}

	if err := dumpDatabase(st, self, dataPath, id.Readable()); err != nil {
		log.Error("Failed to dump database on shutdown", "error", err)
	}

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping introspection RPC", "error", err)
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// dumpDatabase writes data/<peer-id>.json: the full block list plus
// AgentInfo, the language-neutral equivalent of the original's pickle
// dump (spec.md §6 Persistence).
func dumpDatabase(st *store.Store, self wire.AgentInfo, dataPath, readable string) error {
	blocks, err := st.GetAllBlocks()
	if err != nil {
		return err
	}
	wireBlocks, err := wire.BlocksToWire(blocks)
	if err != nil {
		return err
	}
	db := wire.Database{Info: self, Blocks: wireBlocks}

	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataPath, "data", readable+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func printBanner(log *logging.Logger, n *node.Node, cfg *config.Config, rpcAddr string) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  TrustChain Agent")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Introspection RPC: http://%s", rpcAddr)
	log.Info("")
	log.Infof("  mDNS: %v | DHT: %v | PROTECT: %v", cfg.Network.EnableMDNS, cfg.Network.EnableDHT, cfg.Agent.UsePROTECT)
	log.Infof("  Directory: %s", orElse(cfg.Directory.URL, "(none)"))
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func orElse(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

