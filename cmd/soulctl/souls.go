package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/integrity"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/urfave/cli/v2"
)

var paddingFlag = &cli.StringFlag{
	Name:  "padding",
	Value: "duplicate",
	Usage: "odd-level Merkle padding: 'duplicate' (last node) or 'sentinel'",
}

func merkleFor(cCtx *cli.Context) (*integrity.MerkleIntegrity, error) {
	switch cCtx.String(paddingFlag.Name) {
	case "", "duplicate":
		return integrity.NewMerkleIntegrity(), nil
	case "sentinel":
		return integrity.NewMerkleIntegrity().WithPadding(integrity.SentinelPadding{}), nil
	default:
		return nil, fmt.Errorf("unknown padding %q", cCtx.String(paddingFlag.Name))
	}
}

var encodeCommand = &cli.Command{
	Name:  "encode",
	Usage: "encrypt a soul JSON document into a payload",
	Flags: append([]cli.Flag{inFlag, outFlag, hexFlag,
		&cli.BoolFlag{Name: "with-root", Usage: "record the Merkle root in metadata before encoding"},
	}, keyFlags...),
	Action: func(cCtx *cli.Context) error {
		soul, err := readSoul(cCtx.String(inFlag.Name))
		if err != nil {
			return err
		}
		key, err := loadKey(cCtx)
		if err != nil {
			return err
		}
		defer cryptoutils.WipeBytes(key)

		if cCtx.Bool("with-root") {
			root, err := integrity.NewMerkleIntegrity().ComputeRoot(soul.Fragments)
			if err != nil {
				return err
			}
			soul.SetMetadata(interfaces.MerkleRootKey, interfaces.String(root))
		}

		codec := cryptoutils.NewSoulCodec()
		if cCtx.Bool(hexFlag.Name) {
			text, err := codec.EncodeToHex(soul, key)
			if err != nil {
				return err
			}
			return writeOutput(cCtx.String(outFlag.Name), []byte(text+"\n"))
		}
		payload, err := codec.Encode(soul, key)
		if err != nil {
			return err
		}
		return writeOutput(cCtx.String(outFlag.Name), payload)
	},
}

var decodeCommand = &cli.Command{
	Name:  "decode",
	Usage: "decrypt a payload into its canonical soul JSON",
	Flags: append([]cli.Flag{inFlag, outFlag, hexFlag}, keyFlags...),
	Action: func(cCtx *cli.Context) error {
		payload, err := readPayload(cCtx.String(inFlag.Name), cCtx.Bool(hexFlag.Name))
		if err != nil {
			return err
		}
		key, err := loadKey(cCtx)
		if err != nil {
			return err
		}
		defer cryptoutils.WipeBytes(key)

		soul, err := cryptoutils.NewSoulCodec().Decode(payload, key)
		if err != nil {
			return err
		}
		doc, err := soul.CanonicalJSON()
		if err != nil {
			return err
		}
		return writeOutput(cCtx.String(outFlag.Name), append(doc, '\n'))
	},
}

var fingerprintCommand = &cli.Command{
	Name:  "fingerprint",
	Usage: "print the Merkle root and content hash of a soul",
	Flags: []cli.Flag{inFlag, paddingFlag},
	Action: func(cCtx *cli.Context) error {
		soul, err := readSoul(cCtx.String(inFlag.Name))
		if err != nil {
			return err
		}
		merkle, err := merkleFor(cCtx)
		if err != nil {
			return err
		}
		fingerprint, err := merkle.Fingerprint(soul)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, fingerprint)
	},
}

var estimateCommand = &cli.Command{
	Name:  "estimate",
	Usage: "estimate the encoded size of a soul",
	Flags: []cli.Flag{inFlag},
	Action: func(cCtx *cli.Context) error {
		soul, err := readSoul(cCtx.String(inFlag.Name))
		if err != nil {
			return err
		}
		estimate, err := cryptoutils.EstimateSize(soul)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, estimate)
	},
}

var proveCommand = &cli.Command{
	Name:  "prove",
	Usage: "build a Merkle inclusion proof for one fragment",
	Flags: []cli.Flag{inFlag, paddingFlag,
		&cli.IntFlag{Name: "index", Required: true, Usage: "0-based fragment index"},
	},
	Action: func(cCtx *cli.Context) error {
		soul, err := readSoul(cCtx.String(inFlag.Name))
		if err != nil {
			return err
		}
		index := cCtx.Int("index")
		if index < 0 || index >= len(soul.Fragments) {
			return fmt.Errorf("index %d out of range, soul has %d fragments", index, len(soul.Fragments))
		}
		merkle, err := merkleFor(cCtx)
		if err != nil {
			return err
		}
		proof, err := merkle.ProveFragment(soul.Fragments, index)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, proof)
	},
}

var verifyProofCommand = &cli.Command{
	Name:  "verify-proof",
	Usage: "check a Merkle proof, optionally against a fragment and an expected root",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "proof", Required: true, Usage: "proof JSON file"},
		&cli.StringFlag{Name: "soul", Usage: "soul JSON file; the proof's fragment is re-hashed from it"},
		&cli.StringFlag{Name: "root", Usage: "expected Merkle root (hex)"},
	},
	Action: func(cCtx *cli.Context) error {
		data, err := os.ReadFile(cCtx.String("proof"))
		if err != nil {
			return err
		}
		var proof interfaces.MerkleProof
		if err := json.Unmarshal(data, &proof); err != nil {
			return fmt.Errorf("parse proof: %w", err)
		}

		if root := cCtx.String("root"); root != "" {
			if _, err := hex.DecodeString(root); err != nil {
				return fmt.Errorf("root is not hex: %w", err)
			}
			if root != proof.Root {
				return errors.New("proof is for a different root")
			}
		}

		valid := integrity.VerifyProof(proof)
		if path := cCtx.String("soul"); path != "" && valid {
			soul, err := readSoul(path)
			if err != nil {
				return err
			}
			if proof.LeafIndex < 0 || proof.LeafIndex >= len(soul.Fragments) {
				return fmt.Errorf("leaf index %d out of range", proof.LeafIndex)
			}
			valid = integrity.VerifyFragment(soul.Fragments[proof.LeafIndex], proof)
		}

		if !valid {
			return errors.New("proof is invalid")
		}
		fmt.Println("proof is valid")
		return nil
	},
}
