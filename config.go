// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkt-cash/pktd/btcutil"
	"github.com/pkt-cash/pktd/btcutil/er"
	"github.com/pkt-cash/pktd/pktconfig/version"
	"github.com/pkt-cash/pktd/pktlog/log"

	"github.com/secnot/btcbalance/balance"
	"github.com/secnot/btcbalance/follower"
	"github.com/secnot/btcbalance/prevout"
)

const (
	defaultConfigFilename = "btcbalance.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"

	defaultMaxBacktrackBlocks      = 100
	defaultUpstreamPollPeriod      = follower.DefaultPollPeriod
	defaultUpstreamReconnectPeriod = 5 * time.Second
	defaultBalanceCacheSize        = balance.DefaultCacheCapacity
	defaultPrevoutCacheSize        = prevout.DefaultCapacity
)

var (
	defaultHomeDir    = btcutil.AppDataDir("btcbalance", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for btcbalance.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory holding the bbolt balance store"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,..."`

	TestNet3   bool `long:"testnet" description:"Use the bitcoin test network (version 3)"`
	PktTest    bool `long:"pkttest" description:"Use the pkt.cash test network"`
	BtcMainNet bool `long:"btc" description:"Use the bitcoin main network"`
	PktMainNet bool `long:"pkt" description:"Use the pkt.cash main network"`

	UpstreamURL             string        `long:"upstream_url" description:"Upstream full node RPC URL, user:pass@host:port"`
	UpstreamPollPeriod      time.Duration `long:"upstream_poll_period" description:"How often the prefetcher checks for a new tip once caught up"`
	UpstreamReconnectPeriod time.Duration `long:"upstream_reconnect_period" description:"How often to retry the upstream connection while it is down"`

	MaxBacktrackBlocks int  `long:"max_backtrack_blocks" description:"Depth of the recent-blocks ring; bounds the deepest reorg this process can absorb"`
	FastSync           bool `long:"fast_sync" description:"Disable the balance store's fsync for higher throughput, at reduced crash durability"`
	BalanceCacheSize   int  `long:"balance_cache_size" description:"Max addresses held in the write-back balance cache's baseline layer"`
	PrevoutCacheSize   int  `long:"prevout_cache_size" description:"Max (txid, vout) entries held in the prevout resolver cache"`

	DebugListen string `long:"debug_listen" description:"Serve Prometheus metrics on this host:port"`
}

// netParamsFor picks the active chaincfg.Params from the mutually exclusive
// chain-selection flags. At most one may be set; the default is the
// pkt.cash main network.
func netParamsFor(cfg *config) (*params, er.R) {
	selected := 0
	p := &pktMainNetParams
	if cfg.TestNet3 {
		selected++
		p = &testNet3Params
	}
	if cfg.PktTest {
		selected++
		p = &pktTestNetParams
	}
	if cfg.BtcMainNet {
		selected++
		p = &btcMainNetParams
	}
	if cfg.PktMainNet {
		selected++
		p = &pktMainNetParams
	}
	if selected > 1 {
		return nil, er.Errorf("only one of --testnet, --pkttest, --btc, --pkt may be given")
	}
	return p, nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load the configuration file, overwriting defaults with any specified options
//  4. Parse CLI options again and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig() (*config, []string, er.R) {
	cfg := config{
		ConfigFile:              defaultConfigFile,
		DataDir:                 defaultDataDir,
		LogDir:                  defaultLogDir,
		DebugLevel:              defaultLogLevel,
		UpstreamPollPeriod:      defaultUpstreamPollPeriod,
		UpstreamReconnectPeriod: defaultUpstreamReconnectPeriod,
		MaxBacktrackBlocks:      defaultMaxBacktrackBlocks,
		BalanceCacheSize:        defaultBalanceCacheSize,
		PrevoutCacheSize:        defaultPrevoutCacheSize,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, errr := preParser.Parse()
	if errr != nil {
		if e, ok := errr.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, errr)
			return nil, nil, er.E(errr)
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	configNotFound := false
	parser := flags.NewParser(&cfg, flags.Default)
	errr = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if errr != nil {
		if _, ok := errr.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", errr)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, er.E(errr)
		}
		configNotFound = true
	}

	remainingArgs, errr := parser.Parse()
	if errr != nil {
		if e, ok := errr.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, er.E(errr)
	}

	if errr := os.MkdirAll(defaultHomeDir, 0700); errr != nil {
		err := er.Errorf("loadConfig: failed to create home directory: %v", errr)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	netParams, err := netParamsFor(&cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	activeNetParams = netParams

	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = "user:pass@localhost:" + activeNetParams.rpcPort
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, activeNetParams.Name)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNetParams.Name)

	if err := log.SetLogLevels(cfg.DebugLevel); err != nil {
		err := er.Errorf("%s: %v", "loadConfig", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.MaxBacktrackBlocks <= 0 {
		err := er.Errorf("max_backtrack_blocks must be positive")
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if configNotFound && preCfg.ConfigFile != defaultConfigFile {
		log.Warnf("Could not find config file [%s]", preCfg.ConfigFile)
	}

	return &cfg, remainingArgs, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleaning the result.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = filepath.Join(homeDir, path[1:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}
