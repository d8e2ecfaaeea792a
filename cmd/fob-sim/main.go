package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/device"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

const (
	EnvHostListen  = "FOB_HOST_LISTEN"
	EnvBoardAddr   = "FOB_BOARD_ADDR"
	EnvBoardListen = "FOB_BOARD_LISTEN"
	EnvStateFile   = "FOB_STATE_FILE"
	EnvSecretsFile = "FOB_SECRETS_FILE"
	EnvVerbose     = "FOB_VERBOSE"

	defaultHostAddr  = "localhost:1380"
	defaultStateFile = "fob-state.bin"
	dialRetryDelay   = time.Second
)

type fobSimConfig struct {
	hostListen  string
	boardAddr   string
	boardListen string
	statePath   string
	secretsPath string
	testMode    bool
	verbose     bool
}

var simConfig = &fobSimConfig{}

func init() {
	flag.StringVar(&simConfig.hostListen, "host-listen", defaultHostAddr, "`Address` to serve the operator host link on")
	flag.StringVar(&simConfig.boardAddr, "board-addr", "", "`Address` of the peer board link to dial (a car, or a pairing fob)")
	flag.StringVar(&simConfig.boardListen, "board-listen", "", "`Address` to serve the board link on instead of dialing")
	flag.StringVar(&simConfig.statePath, "state", defaultStateFile, "Persistent state `file`")
	flag.StringVar(&simConfig.secretsPath, "secrets", "", "Factory provisioning secrets `file` (TOML); omit for an unpaired fob")
	flag.BoolVar(&simConfig.testMode, "test-mode", false, "Enable diagnostic host commands")
	flag.BoolVar(&simConfig.verbose, "verbose", false, "Enable verbose logging")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s (-board-addr ADDR | -board-listen ADDR) [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nRuns a simulated key fob. The board link either dials a peer (-board-addr)\nor waits for one to dial in (-board-listen).\n")
	fmt.Fprintln(out, "\nOptions:")
	flag.PrintDefaults()
}

func readFromEnvironment() {
	if simConfig.hostListen == defaultHostAddr {
		if addr, ok := os.LookupEnv(EnvHostListen); ok {
			simConfig.hostListen = addr
		}
	}
	if simConfig.boardAddr == "" {
		simConfig.boardAddr = os.Getenv(EnvBoardAddr)
	}
	if simConfig.boardListen == "" {
		simConfig.boardListen = os.Getenv(EnvBoardListen)
	}
	if simConfig.statePath == defaultStateFile {
		if path, ok := os.LookupEnv(EnvStateFile); ok {
			simConfig.statePath = path
		}
	}
	if simConfig.secretsPath == "" {
		simConfig.secretsPath = os.Getenv(EnvSecretsFile)
	}
	if !simConfig.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			simConfig.verbose = verbose != "false" && verbose != "0"
		}
	}
}

func serveHub(hub *transport.Hub, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Debug("fob-sim: accept on %s stopped: %s", listener.Addr(), err)
			return
		}
		log.Info("fob-sim: session attached on %s", listener.Addr())
		hub.Attach(conn)
		conn.Close()
		log.Info("fob-sim: session detached on %s", listener.Addr())
	}
}

// dialHub keeps the board link dialed: each time the peer connection drops,
// it redials after a short delay.
func dialHub(hub *transport.Hub, addr string) {
	for {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			log.Debug("fob-sim: board dial %s: %s", addr, err)
			time.Sleep(dialRetryDelay)
			continue
		}
		log.Info("fob-sim: board link connected to %s", addr)
		hub.Attach(conn)
		conn.Close()
		log.Info("fob-sim: board link to %s dropped", addr)
		time.Sleep(dialRetryDelay)
	}
}

func main() {
	godotenv.Load()

	flag.Usage = Usage
	flag.Parse()
	readFromEnvironment()

	if simConfig.verbose {
		log.SetLevel(log.LevelDebug)
	}

	if (simConfig.boardAddr == "") == (simConfig.boardListen == "") {
		fmt.Fprintln(os.Stderr, "Exactly one of -board-addr and -board-listen is required")
		flag.Usage()
		os.Exit(1)
	}

	var factory *store.PairingSecret
	if simConfig.secretsPath != "" {
		var err error
		factory, err = store.LoadFactorySecret(simConfig.secretsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load factory secrets: %s\n", err)
			os.Exit(1)
		}
	}

	hostLn, err := net.Listen("tcp", simConfig.hostListen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen on host address: %s\n", err)
		os.Exit(1)
	}
	hostHub := transport.NewHub()
	go serveHub(hostHub, hostLn)

	boardHub := transport.NewHub()
	if simConfig.boardListen != "" {
		boardLn, err := net.Listen("tcp", simConfig.boardListen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to listen on board address: %s\n", err)
			os.Exit(1)
		}
		go serveHub(boardHub, boardLn)
	} else {
		go dialHub(boardHub, simConfig.boardAddr)
	}

	fob, err := device.NewFob(device.FobConfig{
		Host:      hostHub,
		Board:     boardHub,
		Store:     store.NewFileStore(simConfig.statePath),
		Factory:   factory,
		Indicator: device.LogIndicator("fob"),
		TestMode:  simConfig.testMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble fob: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("fob-sim: host link on %s, state file %s", simConfig.hostListen, simConfig.statePath)
	fob.Run(ctx)
	log.Info("fob-sim: shut down")
}
