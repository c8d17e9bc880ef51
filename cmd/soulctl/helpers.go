package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ruteri/soulkeeper/cmd/flags"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/storage"
	"github.com/urfave/cli/v2"
)

var (
	keyFlag = &cli.StringFlag{
		Name:    "key",
		EnvVars: []string{"SOUL_KEY"},
		Usage:   "soul key, 64 hex characters",
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "key-file",
		Usage: "file holding the hex soul key",
	}
	shareFlag = &cli.StringSliceFlag{
		Name:  "share",
		Usage: "key share (index:hexdata:fingerprint); repeat for each share",
	}
	sharerFlag = &cli.StringFlag{
		Name:  "sharer",
		Value: "prime",
		Usage: "sharing scheme: 'prime' (GF(257), deterministic) or 'vault' (GF(2^8), random)",
	}
	inFlag = &cli.StringFlag{
		Name:    "in",
		Aliases: []string{"i"},
		Value:   "-",
		Usage:   "input file, '-' for stdin",
	}
	outFlag = &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Value:   "-",
		Usage:   "output file, '-' for stdout",
	}
	hexFlag = &cli.BoolFlag{
		Name:  "hex",
		Usage: "payloads are hex text instead of raw bytes",
	}
	gatewayFlag = &cli.StringFlag{
		Name:    "gateway",
		EnvVars: []string{"SOUL_GATEWAY"},
		Usage:   "soul gateway URL, e.g. http://127.0.0.1:8080",
	}
	tagFlag = &cli.StringSliceFlag{
		Name:  "tag",
		Usage: "upload tag as Name=value; repeat for each tag",
	}
)

var keyFlags = []cli.Flag{keyFlag, keyFileFlag, shareFlag, sharerFlag}

var storeFlags = []cli.Flag{gatewayFlag, flags.ConfigFlag}

// loadKey returns the soul key from --key, --key-file or --share.
func loadKey(cCtx *cli.Context) ([]byte, error) {
	switch {
	case cCtx.String(keyFlag.Name) != "":
		return parseKey(cCtx.String(keyFlag.Name))
	case cCtx.String(keyFileFlag.Name) != "":
		data, err := os.ReadFile(cCtx.String(keyFileFlag.Name))
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return parseKey(string(data))
	case len(cCtx.StringSlice(shareFlag.Name)) > 0:
		shares, err := parseShares(cCtx.StringSlice(shareFlag.Name))
		if err != nil {
			return nil, err
		}
		sharer, err := kms.SharerByName(cCtx.String(sharerFlag.Name))
		if err != nil {
			return nil, err
		}
		return combineShares(sharer, shares)
	default:
		return nil, errors.New("a key is required: use --key, --key-file or --share")
	}
}

func parseKey(text string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("key is not hex: %w", err)
	}
	if len(key) != cryptoutils.KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", interfaces.ErrInvalidKeyLength, len(key))
	}
	return key, nil
}

func parseShares(texts []string) ([]interfaces.KeyShare, error) {
	shares := make([]interfaces.KeyShare, 0, len(texts))
	for _, text := range texts {
		share, err := interfaces.ParseKeyShare(text)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// combineShares feeds the shares through a collector, which rejects
// duplicates and mixed keys before interpolating.
func combineShares(sharer kms.KeySharer, shares []interfaces.KeyShare) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: got %d", interfaces.ErrInsufficientShares, len(shares))
	}
	collector, err := kms.NewShareCollector(sharer, len(shares))
	if err != nil {
		return nil, err
	}
	for _, share := range shares {
		if err := collector.Submit(share); err != nil {
			return nil, err
		}
	}
	key, err := collector.Key()
	collector.Lock()
	return key, err
}

func parseTags(pairs []string) (map[string]string, error) {
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid tag %q, expected Name=value", pair)
		}
		tags[strings.TrimSpace(name)] = value
	}
	return tags, nil
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readSoul(path string) (*interfaces.Soul, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return interfaces.ParseSoul(data)
}

// readPayload reads an encoded payload, hex-decoding it when asHex is set.
func readPayload(path string, asHex bool) ([]byte, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}
	if !asHex {
		return data, nil
	}
	payload, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("payload is not hex: %w", err)
	}
	return payload, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// soulStore is a SoulStore that may hold resources.
type soulStore interface {
	interfaces.SoulStore
	Close() error
}

type gatewayCloser struct {
	*storage.GatewayStore
}

func (gatewayCloser) Close() error { return nil }

// openStore connects to --gateway, or opens the --config layout locally.
func openStore(cCtx *cli.Context) (soulStore, error) {
	log := flags.SetupLogger(cCtx)
	if url := cCtx.String(gatewayFlag.Name); url != "" {
		return gatewayCloser{storage.NewGatewayStore(url, log)}, nil
	}

	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	return cfg.OpenSoulStore(cCtx.Context, storage.NewStorageBackendFactory(log), log)
}
