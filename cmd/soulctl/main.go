package main

import (
	"log"
	"os"

	"github.com/ruteri/soulkeeper/cmd/flags"
	"github.com/urfave/cli/v2"
)

const usage = `soulctl manages encrypted agent souls: keys and key shares, the
soul payload codec, Merkle integrity proofs and the soul store.

Keys are given as 64 hex characters with --key, read from --key-file, or
reconstructed from --share values (index:hexdata:fingerprint).

The store is a soul gateway when --gateway is set, otherwise the layout in
--config (in-memory when neither is given).`

func main() {
	app := &cli.App{
		Name:        "soulctl",
		Usage:       "soul keeping toolkit",
		Description: usage,
		ErrWriter:   os.Stderr,
		Flags: append([]cli.Flag{
			flags.LogServiceFlagFn("soulctl"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			keygenCommand,
			splitCommand,
			combineCommand,
			holderKeygenCommand,
			sealShareCommand,
			openShareCommand,
			signShareCommand,
			submitShareCommand,
			encodeCommand,
			decodeCommand,
			fingerprintCommand,
			estimateCommand,
			proveCommand,
			verifyProofCommand,
			storeCommand,
			resurrectCommand,
			ceremonyCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
