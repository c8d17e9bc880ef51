package main

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/httpserver"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/urfave/cli/v2"
)

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate a soul key (random, or derived from a passphrase)",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "passphrase", EnvVars: []string{"SOUL_PASSPHRASE"}, Usage: "derive the key from this passphrase with Argon2id"},
		&cli.StringFlag{Name: "salt", Usage: "hex salt for --passphrase (generated when empty)"},
	},
	Action: func(cCtx *cli.Context) error {
		passphrase := cCtx.String("passphrase")
		if passphrase == "" {
			key, err := cryptoutils.GenerateKey()
			if err != nil {
				return err
			}
			defer cryptoutils.WipeBytes(key)
			fmt.Println(hex.EncodeToString(key))
			return nil
		}

		var salt []byte
		if s := cCtx.String("salt"); s != "" {
			var err error
			if salt, err = hex.DecodeString(s); err != nil {
				return fmt.Errorf("salt is not hex: %w", err)
			}
		} else {
			generated, err := cryptoutils.GenerateKey()
			if err != nil {
				return err
			}
			salt = generated[:16]
		}

		key, err := cryptoutils.DeriveKeyFromPassphrase(passphrase, salt)
		if err != nil {
			return err
		}
		defer cryptoutils.WipeBytes(key)
		return printJSON(os.Stdout, map[string]string{
			"key":  hex.EncodeToString(key),
			"salt": hex.EncodeToString(salt),
		})
	},
}

var splitCommand = &cli.Command{
	Name:  "split",
	Usage: "split a soul key into threshold shares",
	Flags: []cli.Flag{
		keyFlag, keyFileFlag, sharerFlag,
		&cli.IntFlag{Name: "threshold", Aliases: []string{"t"}, Value: 3, Usage: "shares needed to reconstruct"},
		&cli.IntFlag{Name: "shares", Aliases: []string{"n"}, Value: 5, Usage: "shares to create"},
		&cli.StringSliceFlag{Name: "holder-pubkey", Usage: "holder PEM public key file, one per share in order; shares are then sealed to their holders"},
		&cli.StringFlag{Name: "out-dir", Usage: "write sealed shares as <out-dir>/share-<index>.sealed instead of printing them"},
	},
	Action: func(cCtx *cli.Context) error {
		key, err := loadKey(cCtx)
		if err != nil {
			return err
		}
		defer cryptoutils.WipeBytes(key)

		sharer, err := kms.SharerByName(cCtx.String(sharerFlag.Name))
		if err != nil {
			return err
		}

		_, shares, err := sharer.Split(key, cCtx.Int("threshold"), cCtx.Int("shares"))
		if err != nil {
			return err
		}

		holders := cCtx.StringSlice("holder-pubkey")
		if len(holders) == 0 {
			fmt.Fprintf(os.Stderr, "key fingerprint %s, %d of %d shares needed\n", interfaces.KeyFingerprint(key), cCtx.Int("threshold"), len(shares))
			for _, share := range shares {
				fmt.Println(share.String())
			}
			return nil
		}

		if len(holders) != len(shares) {
			return fmt.Errorf("got %d holder keys for %d shares", len(holders), len(shares))
		}
		outDir := cCtx.String("out-dir")
		for i, share := range shares {
			pub, err := os.ReadFile(holders[i])
			if err != nil {
				return fmt.Errorf("read holder key: %w", err)
			}
			sealed, err := cryptoutils.SealForHolder(pub, []byte(share.String()))
			if err != nil {
				return fmt.Errorf("seal share %d: %w", share.Index, err)
			}
			encoded := base64.StdEncoding.EncodeToString(sealed)
			if outDir == "" {
				fmt.Printf("%s %s\n", holders[i], encoded)
				continue
			}
			path := filepath.Join(outDir, fmt.Sprintf("share-%d.sealed", share.Index))
			if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
				return err
			}
		}
		return nil
	},
}

var combineCommand = &cli.Command{
	Name:  "combine",
	Usage: "reconstruct a soul key from shares",
	Flags: []cli.Flag{shareFlag, sharerFlag},
	Action: func(cCtx *cli.Context) error {
		shares, err := parseShares(cCtx.StringSlice(shareFlag.Name))
		if err != nil {
			return err
		}
		sharer, err := kms.SharerByName(cCtx.String(sharerFlag.Name))
		if err != nil {
			return err
		}
		key, err := combineShares(sharer, shares)
		if err != nil {
			return err
		}
		defer cryptoutils.WipeBytes(key)
		fmt.Println(hex.EncodeToString(key))
		return nil
	},
}

var holderKeygenCommand = &cli.Command{
	Name:  "holder-keygen",
	Usage: "generate a share holder key pair",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "name", Value: "holder", Usage: "writes <name>.key and <name>.pub"},
	},
	Action: func(cCtx *cli.Context) error {
		priv, pub, err := cryptoutils.GenerateHolderKey()
		if err != nil {
			return err
		}
		name := cCtx.String("name")
		if err := os.WriteFile(name+".key", priv, 0o600); err != nil {
			return err
		}
		if err := os.WriteFile(name+".pub", pub, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s.key and %s.pub\n", name, name)
		return nil
	},
}

var sealShareCommand = &cli.Command{
	Name:  "seal-share",
	Usage: "encrypt a share to a holder public key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "share", Required: true},
		&cli.StringFlag{Name: "holder-pubkey", Required: true, Usage: "holder PEM public key file"},
	},
	Action: func(cCtx *cli.Context) error {
		share, err := interfaces.ParseKeyShare(cCtx.String("share"))
		if err != nil {
			return err
		}
		pub, err := os.ReadFile(cCtx.String("holder-pubkey"))
		if err != nil {
			return err
		}
		sealed, err := cryptoutils.SealForHolder(pub, []byte(share.String()))
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(sealed))
		return nil
	},
}

var openShareCommand = &cli.Command{
	Name:  "open-share",
	Usage: "decrypt a sealed share with the holder private key",
	Flags: []cli.Flag{
		inFlag,
		&cli.StringFlag{Name: "holder-key", Required: true, Usage: "holder PEM private key file"},
	},
	Action: func(cCtx *cli.Context) error {
		share, err := openSealedShare(cCtx.String(inFlag.Name), cCtx.String("holder-key"))
		if err != nil {
			return err
		}
		fmt.Println(share.String())
		return nil
	},
}

var signShareCommand = &cli.Command{
	Name:  "sign-share",
	Usage: "sign a share with the holder private key for custody submission",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "share", Required: true},
		&cli.StringFlag{Name: "holder-key", Required: true, Usage: "holder PEM private key file"},
	},
	Action: func(cCtx *cli.Context) error {
		share, err := interfaces.ParseKeyShare(cCtx.String("share"))
		if err != nil {
			return err
		}
		signature, err := signShare(share, cCtx.String("holder-key"))
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(signature))
		return nil
	},
}

var submitShareCommand = &cli.Command{
	Name:  "submit-share",
	Usage: "submit a share to a gateway's custody API",
	Flags: []cli.Flag{
		gatewayFlag,
		&cli.StringFlag{Name: "share", Usage: "share text; alternatively --sealed"},
		&cli.StringFlag{Name: "sealed", Usage: "file with a sealed share, opened with --holder-key"},
		&cli.StringFlag{Name: "holder-key", Usage: "holder PEM private key file; the share is signed with it"},
		&cli.StringFlag{Name: "holder-pubkey", Usage: "holder PEM public key file, required with --holder-key"},
	},
	Action: func(cCtx *cli.Context) error {
		gateway := strings.TrimSuffix(cCtx.String(gatewayFlag.Name), "/")
		if gateway == "" {
			return errors.New("--gateway is required")
		}

		var share interfaces.KeyShare
		var err error
		switch {
		case cCtx.String("share") != "":
			share, err = interfaces.ParseKeyShare(cCtx.String("share"))
		case cCtx.String("sealed") != "":
			share, err = openSealedShare(cCtx.String("sealed"), cCtx.String("holder-key"))
		default:
			err = errors.New("--share or --sealed is required")
		}
		if err != nil {
			return err
		}

		submission := httpserver.ShareSubmission{Share: share}
		if holderKey := cCtx.String("holder-key"); holderKey != "" {
			pub, err := os.ReadFile(cCtx.String("holder-pubkey"))
			if err != nil {
				return fmt.Errorf("read holder public key: %w", err)
			}
			signature, err := signShare(share, holderKey)
			if err != nil {
				return err
			}
			submission.Signature = base64.StdEncoding.EncodeToString(signature)
			submission.HolderPubKey = string(pub)
		}

		body, err := json.Marshal(submission)
		if err != nil {
			return err
		}
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Post(gateway+"/custody/share", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("submission failed with code %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		var status httpserver.CustodyStatus
		if err := json.Unmarshal(respBody, &status); err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

func openSealedShare(sealedPath, holderKeyPath string) (interfaces.KeyShare, error) {
	if holderKeyPath == "" {
		return interfaces.KeyShare{}, errors.New("--holder-key is required to open a sealed share")
	}
	encoded, err := readInput(sealedPath)
	if err != nil {
		return interfaces.KeyShare{}, err
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
	if err != nil {
		return interfaces.KeyShare{}, fmt.Errorf("sealed share is not base64: %w", err)
	}
	priv, err := os.ReadFile(holderKeyPath)
	if err != nil {
		return interfaces.KeyShare{}, err
	}
	plain, err := cryptoutils.OpenSealed(priv, sealed)
	if err != nil {
		return interfaces.KeyShare{}, err
	}
	defer cryptoutils.WipeBytes(plain)
	return interfaces.ParseKeyShare(string(plain))
}

func signShare(share interfaces.KeyShare, holderKeyPath string) ([]byte, error) {
	privPEM, err := os.ReadFile(holderKeyPath)
	if err != nil {
		return nil, err
	}
	priv, err := kms.ParseHolderPrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	return kms.SignShare(share, priv)
}
