package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ruteri/soulkeeper/cmd/flags"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/revival"
	"github.com/urfave/cli/v2"
)

var storeCommand = &cli.Command{
	Name:  "store",
	Usage: "upload an encoded payload",
	Flags: append([]cli.Flag{inFlag, hexFlag, tagFlag,
		&cli.StringFlag{Name: "agent", Usage: "agent id, sent as the Agent-Id tag"},
	}, storeFlags...),
	Action: func(cCtx *cli.Context) error {
		payload, err := readPayload(cCtx.String(inFlag.Name), cCtx.Bool(hexFlag.Name))
		if err != nil {
			return err
		}
		tags, err := parseTags(cCtx.StringSlice(tagFlag.Name))
		if err != nil {
			return err
		}
		if agent := cCtx.String("agent"); agent != "" {
			tags[interfaces.AgentIDTag] = agent
		}

		store, err := openStore(cCtx)
		if err != nil {
			return err
		}
		defer store.Close()

		receipt, err := store.Upload(cCtx.Context, payload, tags)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, receipt)
	},
}

var resurrectCommand = &cli.Command{
	Name:  "resurrect",
	Usage: "download, decrypt and verify a stored soul",
	Flags: append(append([]cli.Flag{outFlag,
		&cli.StringFlag{Name: "id", Usage: "object id to resurrect"},
		&cli.StringFlag{Name: "agent", Usage: "resurrect the agent's latest soul"},
		&cli.BoolFlag{Name: "skip-integrity", Usage: "do not compare the recorded Merkle root"},
	}, keyFlags...), storeFlags...),
	Action: func(cCtx *cli.Context) error {
		id, agent := cCtx.String("id"), cCtx.String("agent")
		if (id == "") == (agent == "") {
			return errors.New("exactly one of --id and --agent is required")
		}

		o, store, err := newOrchestrator(cCtx, cCtx.Bool("skip-integrity"))
		if err != nil {
			return err
		}
		defer store.Close()
		defer o.Close()

		var result *revival.Result
		if id != "" {
			result = o.Resurrect(cCtx.Context, interfaces.ObjectID(id))
		} else {
			result = o.ResurrectLatest(cCtx.Context, agent)
		}
		return reportResult(cCtx, result)
	},
}

var ceremonyCommand = &cli.Command{
	Name:  "ceremony",
	Usage: "record the Merkle root, encode, upload and resurrect a soul in one go",
	Flags: append(append([]cli.Flag{inFlag, outFlag, tagFlag}, keyFlags...), storeFlags...),
	Action: func(cCtx *cli.Context) error {
		soul, err := readSoul(cCtx.String(inFlag.Name))
		if err != nil {
			return err
		}
		tags, err := parseTags(cCtx.StringSlice(tagFlag.Name))
		if err != nil {
			return err
		}

		o, store, err := newOrchestrator(cCtx, false)
		if err != nil {
			return err
		}
		defer store.Close()
		defer o.Close()

		receipt, result := o.FullCeremony(cCtx.Context, soul, tags)
		if receipt != nil {
			if err := printJSON(os.Stderr, receipt); err != nil {
				return err
			}
		}
		return reportResult(cCtx, result)
	},
}

func newOrchestrator(cCtx *cli.Context, skipIntegrity bool) (*revival.Orchestrator, soulStore, error) {
	store, err := openStore(cCtx)
	if err != nil {
		return nil, nil, err
	}

	cfg := revival.Config{
		Store:         store,
		SkipIntegrity: skipIntegrity,
		Log:           flags.SetupLogger(cCtx),
	}
	if shares := cCtx.StringSlice(shareFlag.Name); len(shares) > 0 && cCtx.String(keyFlag.Name) == "" && cCtx.String(keyFileFlag.Name) == "" {
		if cfg.Shares, err = parseShares(shares); err != nil {
			store.Close()
			return nil, nil, err
		}
		if cfg.Sharer, err = kms.SharerByName(cCtx.String(sharerFlag.Name)); err != nil {
			store.Close()
			return nil, nil, err
		}
	} else {
		if cfg.Key, err = loadKey(cCtx); err != nil {
			store.Close()
			return nil, nil, err
		}
		defer cryptoutils.WipeBytes(cfg.Key)
	}

	o, err := revival.New(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return o, store, nil
}

// reportResult prints the result to stderr and the soul to --out. A failed
// attempt becomes the command error.
func reportResult(cCtx *cli.Context, result *revival.Result) error {
	summary, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, string(summary))

	if !result.Success {
		return result.Err
	}
	if result.Integrity == revival.IntegrityMismatch {
		fmt.Fprintln(os.Stderr, "warning: Merkle root mismatch, the soul may be corrupted")
	}

	doc, err := result.Soul.CanonicalJSON()
	if err != nil {
		return err
	}
	return writeOutput(cCtx.String(outFlag.Name), append(doc, '\n'))
}
