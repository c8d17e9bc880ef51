package revival

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/integrity"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/metrics"
)

// Config configures an Orchestrator.
type Config struct {
	// Key is the 32-byte soul key. When empty, it is reconstructed from Shares.
	Key    []byte
	Shares []interfaces.KeyShare
	// Sharer reconstructs Key from Shares. Defaults to PrimeFieldSharer.
	Sharer kms.KeySharer

	Store interfaces.SoulStore

	// SkipIntegrity disables the Merkle root comparison after decoding.
	SkipIntegrity bool
	// Integrity computes roots. Defaults to duplicate-last padding.
	Integrity *integrity.MerkleIntegrity
	Codec     *cryptoutils.SoulCodec

	Log     *slog.Logger
	Metrics *metrics.RevivalMetrics
}

// Orchestrator drives download, decode and integrity check of stored souls.
// It holds its own copy of the key until Close.
type Orchestrator struct {
	key       []byte
	store     interfaces.SoulStore
	verify    bool
	integrity *integrity.MerkleIntegrity
	codec     *cryptoutils.SoulCodec
	log       *slog.Logger
	metrics   *metrics.RevivalMetrics
}

// New creates an orchestrator. A key that cannot be obtained, either
// directly or from the shares, is a construction error.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("revival: a soul store is required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	var key []byte
	switch {
	case len(cfg.Key) > 0:
		if len(cfg.Key) != cryptoutils.KeySize {
			return nil, fmt.Errorf("%w: got %d bytes", interfaces.ErrInvalidKeyLength, len(cfg.Key))
		}
		key = append([]byte(nil), cfg.Key...)
	case len(cfg.Shares) > 0:
		sharer := cfg.Sharer
		if sharer == nil {
			sharer = kms.NewPrimeFieldSharer()
		}
		reconstructed, err := sharer.Combine(cfg.Shares)
		if err != nil {
			return nil, fmt.Errorf("failed to reconstruct key from %d shares: %w", len(cfg.Shares), err)
		}
		key = reconstructed
	default:
		return nil, errors.New("revival: either a key or key shares are required")
	}

	merkle := cfg.Integrity
	if merkle == nil {
		merkle = integrity.NewMerkleIntegrity()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = cryptoutils.NewSoulCodec()
	}

	return &Orchestrator{
		key:       key,
		store:     cfg.Store,
		verify:    !cfg.SkipIntegrity,
		integrity: merkle,
		codec:     codec,
		log:       log,
		metrics:   cfg.Metrics,
	}, nil
}

// Resurrect downloads, decodes and verifies the soul stored under id.
func (o *Orchestrator) Resurrect(ctx context.Context, id interfaces.ObjectID) *Result {
	start := time.Now()
	result := o.resurrect(ctx, id, start)
	o.record(result)
	return result
}

func (o *Orchestrator) resurrect(ctx context.Context, id interfaces.ObjectID, start time.Time) *Result {
	result := &Result{ObjectID: id, Phase: PhaseStart, Integrity: IntegrityUnchecked}
	if o.key == nil {
		return result.fail(PhaseStart, "Orchestrator closed", errors.New("key has been wiped"), start)
	}

	o.log.Info("Downloading soul", slog.String("object_id", id.String()))
	payload, err := o.store.Download(ctx, id)
	if err != nil {
		return result.fail(PhaseStart, "Download failed", err, start)
	}
	result.Phase = PhaseDownloaded

	soul, err := o.codec.Decode(payload, o.key)
	if err != nil {
		return result.fail(PhaseDownloaded, "Decode failed", err, start)
	}
	result.Phase = PhaseDecoded

	// A soul without a recorded root stays IntegrityUnchecked: stripping the
	// root must not turn into a verified result.
	if stored, ok := soul.MerkleRoot(); ok && o.verify {
		computed, err := o.integrity.ComputeRoot(soul.Fragments)
		if err != nil {
			return result.fail(PhaseDecoded, "Integrity check failed", err, start)
		}
		if computed == stored {
			result.Integrity = IntegrityVerified
			result.IntegrityVerified = true
		} else {
			result.Integrity = IntegrityMismatch
			o.log.Warn("Merkle root mismatch, soul may be corrupted",
				slog.String("object_id", id.String()),
				slog.String("stored_root", stored),
				slog.String("computed_root", computed))
		}
		result.Phase = PhaseIntegrityChecked
	}

	result.Success = true
	result.Soul = soul
	result.FragmentCount = len(soul.Fragments)
	result.ModelOrigin = soul.ModelOrigin
	result.SoulVersion = soul.Version
	result.Phase = PhaseDone
	result.Elapsed = time.Since(start)
	return result
}

// ResurrectLatest resurrects the most recent soul stored for agentID.
func (o *Orchestrator) ResurrectLatest(ctx context.Context, agentID string) *Result {
	start := time.Now()

	o.log.Info("Searching for latest soul", slog.String("agent_id", agentID))
	ids, err := o.store.SearchByAgent(ctx, agentID, 1)
	if err != nil {
		result := (&Result{Integrity: IntegrityUnchecked}).fail(PhaseStart, "Search failed", err, start)
		o.record(result)
		return result
	}
	if len(ids) == 0 {
		result := (&Result{Integrity: IntegrityUnchecked}).fail(PhaseStart, "Search failed",
			fmt.Errorf("%w: %s", interfaces.ErrAgentNotFound, agentID), start)
		o.record(result)
		return result
	}

	result := o.resurrect(ctx, ids[0], start)
	o.record(result)
	return result
}

// FullCeremony records the Merkle root of soul in its metadata, encodes and
// uploads it tagged with its agent id, and resurrects it straight back. The
// caller's soul is modified: its metadata gains the merkle_root entry.
// The receipt is nil when the soul never reached the store.
func (o *Orchestrator) FullCeremony(ctx context.Context, soul *interfaces.Soul, tags map[string]string) (*interfaces.Receipt, *Result) {
	start := time.Now()
	receipt, result := o.ceremony(ctx, soul, tags, start)
	o.metrics.ObserveCeremony(result.Success && result.Integrity != IntegrityMismatch)
	return receipt, result
}

func (o *Orchestrator) ceremony(ctx context.Context, soul *interfaces.Soul, tags map[string]string, start time.Time) (*interfaces.Receipt, *Result) {
	failed := func(prefix string, err error) *Result {
		result := (&Result{Integrity: IntegrityUnchecked}).fail(PhaseStart, prefix, err, start)
		o.record(result)
		return result
	}

	if soul == nil {
		return nil, failed("Encode failed", interfaces.ErrInvalidRecord)
	}
	if o.key == nil {
		return nil, failed("Orchestrator closed", errors.New("key has been wiped"))
	}

	root, err := o.integrity.ComputeRoot(soul.Fragments)
	if err != nil {
		return nil, failed("Encode failed", fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err))
	}
	soul.SetMetadata(interfaces.MerkleRootKey, interfaces.String(root))

	payload, err := o.codec.Encode(soul, o.key)
	if err != nil {
		return nil, failed("Encode failed", err)
	}

	allTags := map[string]string{interfaces.AgentIDTag: soul.AgentID}
	maps.Copy(allTags, tags)

	receipt, err := o.store.Upload(ctx, payload, allTags)
	if err != nil {
		return nil, failed("Upload failed", err)
	}

	o.log.Info("Soul stored",
		slog.String("agent_id", soul.AgentID),
		slog.String("object_id", receipt.ObjectID.String()),
		slog.String("merkle_root", root),
		slog.Int("size", receipt.SizeBytes))

	result := o.resurrect(ctx, receipt.ObjectID, start)
	o.record(result)
	return &receipt, result
}

// Close wipes the orchestrator's key. Later calls fail.
func (o *Orchestrator) Close() {
	cryptoutils.WipeBytes(o.key)
	o.key = nil
}

func (o *Orchestrator) record(result *Result) {
	if result.Success {
		attrs := []any{
			slog.String("object_id", result.ObjectID.String()),
			slog.Int("fragments", result.FragmentCount),
			slog.String("integrity", string(result.Integrity)),
			slog.Duration("duration", result.Elapsed),
		}
		if result.Soul != nil {
			attrs = append(attrs, slog.String("agent_id", result.Soul.AgentID))
		}
		o.log.Info("Soul resurrected", attrs...)
	} else {
		o.log.Error("Resurrection failed",
			slog.String("object_id", result.ObjectID.String()),
			slog.String("phase", string(result.Phase)),
			slog.String("error", result.Error),
			slog.Duration("duration", result.Elapsed))
	}
	o.metrics.ObserveAttempt(result.Success, string(result.Phase), string(result.Integrity), result.Elapsed)
}
