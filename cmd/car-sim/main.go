package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/device"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

const (
	EnvHostListen   = "CAR_HOST_LISTEN"
	EnvBoardListen  = "CAR_BOARD_LISTEN"
	EnvSecretsFile  = "CAR_SECRETS_FILE"
	EnvVerbose      = "FOB_VERBOSE"
	defaultHostAddr = "localhost:1370"
	defaultBoards   = "localhost:1371"
)

type carSimConfig struct {
	hostListen  string
	boardListen string
	secretsPath string
	testMode    bool
	verbose     bool
}

var simConfig = &carSimConfig{}

func init() {
	flag.StringVar(&simConfig.hostListen, "host-listen", defaultHostAddr, "`Address` to serve the operator host link on")
	flag.StringVar(&simConfig.boardListen, "board-listen", defaultBoards, "`Address` to serve the fob board link on")
	flag.StringVar(&simConfig.secretsPath, "secrets", "", "Provisioning secrets `file` (TOML)")
	flag.BoolVar(&simConfig.testMode, "test-mode", false, "Enable diagnostic host commands")
	flag.BoolVar(&simConfig.verbose, "verbose", false, "Enable verbose logging")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s -secrets FILE [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nRuns a simulated car on two TCP ports: one for the operator host link,\none for the fob board link.\n")
	fmt.Fprintln(out, "\nOptions:")
	flag.PrintDefaults()
}

func readFromEnvironment() {
	if simConfig.hostListen == defaultHostAddr {
		if addr, ok := os.LookupEnv(EnvHostListen); ok {
			simConfig.hostListen = addr
		}
	}
	if simConfig.boardListen == defaultBoards {
		if addr, ok := os.LookupEnv(EnvBoardListen); ok {
			simConfig.boardListen = addr
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

// serveHub accepts TCP sessions one at a time and attaches each to the hub,
// so the device keeps its link across operator reconnects.
func serveHub(hub *transport.Hub, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Debug("car-sim: accept on %s stopped: %s", listener.Addr(), err)
			return
		}
		log.Info("car-sim: session attached on %s", listener.Addr())
		hub.Attach(conn)
		conn.Close()
		log.Info("car-sim: session detached on %s", listener.Addr())
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

	if simConfig.secretsPath == "" {
		fmt.Fprintln(os.Stderr, "Missing -secrets file")
		flag.Usage()
		os.Exit(1)
	}

	secrets, err := store.LoadCarSecrets(simConfig.secretsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %s\n", err)
		os.Exit(1)
	}

	hostLn, err := net.Listen("tcp", simConfig.hostListen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen on host address: %s\n", err)
		os.Exit(1)
	}
	boardLn, err := net.Listen("tcp", simConfig.boardListen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to listen on board address: %s\n", err)
		os.Exit(1)
	}

	hostHub := transport.NewHub()
	boardHub := transport.NewHub()
	go serveHub(hostHub, hostLn)
	go serveHub(boardHub, boardLn)

	car, err := device.NewCar(device.CarConfig{
		Host:      hostHub,
		Board:     boardHub,
		Secrets:   secrets,
		Indicator: device.LogIndicator("car"),
		TestMode:  simConfig.testMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to assemble car: %s\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("car-sim: host link on %s, board link on %s", simConfig.hostListen, simConfig.boardListen)
	car.Run(ctx)
	log.Info("car-sim: shut down")
}
