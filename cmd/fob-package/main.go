package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/store"
)

const EnvSecretsFile = "FOB_SECRETS_FILE"

var (
	secretsPath string
	verbose     bool
)

func init() {
	flag.StringVar(&secretsPath, "secrets", "", "Provisioning secrets `file` (TOML)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s -secrets FILE COMMAND [ARG...]\n", os.Args[0])
	fmt.Fprintf(out, `
Builds deployment artifacts from a provisioning secrets file. Output is
hex on stdout, suitable for fob-control.

Commands:
  enable FEATURE   Enable packet installing FEATURE (1-%d) on a paired fob
  pairing          Serialized pairing credential block
  flash            Flash image of a freshly provisioned, paired fob
`, store.NumFeatures)
	fmt.Fprintln(out, "\nOptions:")
	flag.PrintDefaults()
}

func buildEnable(secrets *store.PairingSecret, featureArg string) ([]byte, error) {
	feature, err := strconv.Atoi(featureArg)
	if err != nil || feature < 1 || feature > store.NumFeatures {
		return nil, fmt.Errorf("feature must be an integer in [1, %d]", store.NumFeatures)
	}
	packet := make([]byte, 0, store.IDLength+1)
	packet = append(packet, secrets.CarID[:]...)
	packet = append(packet, byte(feature))
	return packet, nil
}

func buildFlash(secrets *store.PairingSecret) ([]byte, error) {
	state := store.FobState{Paired: true, PairInfo: *secrets}
	state.FeatureInfo.CarID = secrets.CarID
	return state.MarshalBinary()
}

func main() {
	godotenv.Load()

	flag.Usage = Usage
	flag.Parse()

	if verbose {
		log.SetLevel(log.LevelDebug)
	}

	if secretsPath == "" {
		secretsPath = os.Getenv(EnvSecretsFile)
	}
	if secretsPath == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	secrets, err := store.LoadFactorySecret(secretsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %s\n", err)
		os.Exit(1)
	}

	var artifact []byte
	switch cmd := flag.Arg(0); cmd {
	case "enable":
		if flag.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "Usage: enable FEATURE")
			os.Exit(1)
		}
		artifact, err = buildEnable(secrets, flag.Arg(1))
	case "pairing":
		artifact, err = secrets.MarshalBinary()
	case "flash":
		artifact, err = buildFlash(secrets)
	default:
		fmt.Fprintf(os.Stderr, "Unrecognized command: %s\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build artifact: %s\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(artifact))
}
