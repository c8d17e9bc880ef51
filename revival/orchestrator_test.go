package revival

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/ruteri/soulkeeper/kms"
	"github.com/ruteri/soulkeeper/metrics"
	"github.com/ruteri/soulkeeper/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSoulStore implements interfaces.SoulStore for testing
type MockSoulStore struct {
	mock.Mock
}

func (m *MockSoulStore) Upload(ctx context.Context, data []byte, tags map[string]string) (interfaces.Receipt, error) {
	args := m.Called(ctx, data, tags)
	return args.Get(0).(interfaces.Receipt), args.Error(1)
}

func (m *MockSoulStore) Download(ctx context.Context, id interfaces.ObjectID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSoulStore) SearchByAgent(ctx context.Context, agentID string, limit int) ([]interfaces.ObjectID, error) {
	args := m.Called(ctx, agentID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.ObjectID), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := cryptoutils.GenerateKey()
	require.NoError(t, err)
	return key
}

func threeFragmentSoul() *interfaces.Soul {
	return interfaces.NewSoul("agent-7").
		Personality("tone", interfaces.String("warm, direct")).
		Values("honesty", interfaces.Float(0.95)).
		Memory("first_boot", interfaces.MustValue(map[string]any{"year": 2025, "place": "lab"}))
}

func newOrchestrator(t *testing.T, store interfaces.SoulStore, key []byte) *Orchestrator {
	t.Helper()
	o, err := New(Config{Key: key, Store: store, Log: testLogger()})
	require.NoError(t, err)
	return o
}

// storeEncoded puts soul into store without going through a ceremony.
func storeEncoded(t *testing.T, store interfaces.SoulStore, soul *interfaces.Soul, key []byte) interfaces.ObjectID {
	t.Helper()
	payload, err := cryptoutils.NewSoulCodec().Encode(soul, key)
	require.NoError(t, err)
	receipt, err := store.Upload(context.Background(), payload, map[string]string{interfaces.AgentIDTag: soul.AgentID})
	require.NoError(t, err)
	return receipt.ObjectID
}

func TestFullCeremonyThenResurrectLatest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	o := newOrchestrator(t, store, testKey(t))

	soul := threeFragmentSoul()
	original := soul.Clone()

	receipt, result := o.FullCeremony(ctx, soul, map[string]string{"Soul-Version": "1"})
	require.NotNil(t, receipt)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, receipt.ObjectID, result.ObjectID)
	assert.True(t, result.IntegrityVerified)

	root, ok := soul.MerkleRoot()
	require.True(t, ok, "ceremony records the root on the caller's soul")

	latest := o.ResurrectLatest(ctx, "agent-7")
	require.True(t, latest.Success, latest.Error)
	assert.True(t, latest.IntegrityVerified)
	assert.Equal(t, IntegrityVerified, latest.Integrity)
	assert.Equal(t, PhaseDone, latest.Phase)
	assert.Equal(t, 3, latest.FragmentCount)
	assert.Equal(t, 1, latest.SoulVersion)
	assert.Equal(t, original.AgentID, latest.Soul.AgentID)
	assert.Empty(t, latest.Error)
	assert.NoError(t, latest.Err)

	for i := range original.Fragments {
		assert.True(t, original.Fragments[i].Equal(latest.Soul.Fragments[i]), "fragment %d", i)
	}
	decodedRoot, ok := latest.Soul.MerkleRoot()
	require.True(t, ok)
	assert.Equal(t, root, decodedRoot)
}

func TestResurrectLatestPicksNewest(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	o := newOrchestrator(t, store, testKey(t))

	first := threeFragmentSoul()
	_, result := o.FullCeremony(ctx, first, nil)
	require.True(t, result.Success)

	second := threeFragmentSoul()
	second.Version = 2
	second.Behavior("greeting", interfaces.String("namaste"))
	_, result = o.FullCeremony(ctx, second, nil)
	require.True(t, result.Success)

	latest := o.ResurrectLatest(ctx, "agent-7")
	require.True(t, latest.Success, latest.Error)
	assert.Equal(t, 2, latest.SoulVersion)
	assert.Equal(t, 4, latest.FragmentCount)
}

func TestNewFromShares(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	key := testKey(t)
	id := storeEncoded(t, store, threeFragmentSoul(), key)

	sharers := map[string]kms.KeySharer{
		"prime": kms.NewPrimeFieldSharer(),
		"vault": kms.NewVaultSharer(),
	}

	for name, sharer := range sharers {
		t.Run(name, func(t *testing.T) {
			_, shares, err := sharer.Split(key, 3, 5)
			require.NoError(t, err)

			o, err := New(Config{Shares: []interfaces.KeyShare{shares[4], shares[0], shares[2]}, Sharer: sharer, Store: store, Log: testLogger()})
			require.NoError(t, err)
			result := o.Resurrect(ctx, id)
			assert.True(t, result.Success, result.Error)

			_, err = New(Config{Shares: shares[:2], Sharer: sharer, Store: store})
			assert.ErrorIs(t, err, interfaces.ErrShareReconstructionFailed)
		})
	}
}

func TestNewErrors(t *testing.T) {
	store := storage.NewInMemorySoulStore(testLogger())

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
		wantMsg string
	}{
		{
			name:    "no store",
			cfg:     Config{Key: make([]byte, 32)},
			wantMsg: "soul store is required",
		},
		{
			name:    "no key material",
			cfg:     Config{Store: store},
			wantMsg: "key or key shares are required",
		},
		{
			name:    "short key",
			cfg:     Config{Key: make([]byte, 16), Store: store},
			wantErr: interfaces.ErrInvalidKeyLength,
		},
		{
			name:    "single share",
			cfg:     Config{Shares: []interfaces.KeyShare{{Index: 1, Data: []byte{0, 1}, Fingerprint: "00"}}, Store: store},
			wantErr: interfaces.ErrInsufficientShares,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(tt.cfg)
			assert.Nil(t, o)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.ErrorContains(t, err, tt.wantMsg)
			}
		})
	}
}

func TestNewCopiesKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	key := testKey(t)
	id := storeEncoded(t, store, threeFragmentSoul(), key)

	o := newOrchestrator(t, store, key)
	cryptoutils.WipeBytes(key)

	result := o.Resurrect(ctx, id)
	assert.True(t, result.Success, result.Error)
}

func TestResurrectFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	key := testKey(t)
	id := storeEncoded(t, store, threeFragmentSoul(), key)

	garbage, err := store.Upload(ctx, []byte("definitely not a soul payload"), nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		key       []byte
		id        interfaces.ObjectID
		wantPhase Phase
		wantErr   error
		wantMsg   string
	}{
		{
			name:      "unknown object",
			key:       key,
			id:        interfaces.ObjectID(interfaces.ComputeID([]byte("nothing")).String()),
			wantPhase: PhaseStart,
			wantErr:   interfaces.ErrObjectNotFound,
			wantMsg:   "Download failed: ",
		},
		{
			name:      "wrong key",
			key:       testKey(t),
			id:        id,
			wantPhase: PhaseDownloaded,
			wantErr:   interfaces.ErrDecryptionFailed,
			wantMsg:   "Decode failed: ",
		},
		{
			name:      "not a soul payload",
			key:       key,
			id:        garbage.ObjectID,
			wantPhase: PhaseDownloaded,
			wantErr:   interfaces.ErrBadMagic,
			wantMsg:   "Decode failed: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, store, tt.key)
			result := o.Resurrect(ctx, tt.id)

			assert.False(t, result.Success)
			assert.Nil(t, result.Soul)
			assert.Equal(t, tt.id, result.ObjectID)
			assert.Equal(t, tt.wantPhase, result.Phase)
			assert.ErrorIs(t, result.Err, tt.wantErr)
			assert.Contains(t, result.Error, tt.wantMsg)
			assert.False(t, result.IntegrityVerified)
		})
	}
}

func TestResurrectIntegrity(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	key := testKey(t)

	noRoot := storeEncoded(t, store, threeFragmentSoul(), key)

	tampered := threeFragmentSoul()
	tampered.SetMetadata(interfaces.MerkleRootKey, interfaces.String("0000000000000000000000000000000000000000000000000000000000000000"))
	wrongRoot := storeEncoded(t, store, tampered, key)

	t.Run("no recorded root", func(t *testing.T) {
		result := newOrchestrator(t, store, key).Resurrect(ctx, noRoot)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, IntegrityUnchecked, result.Integrity)
		assert.False(t, result.IntegrityVerified)
		assert.Equal(t, PhaseDone, result.Phase)
	})

	t.Run("mismatch is reported, not fatal", func(t *testing.T) {
		result := newOrchestrator(t, store, key).Resurrect(ctx, wrongRoot)
		require.True(t, result.Success, result.Error)
		require.NotNil(t, result.Soul)
		assert.Equal(t, IntegrityMismatch, result.Integrity)
		assert.False(t, result.IntegrityVerified)
		assert.Equal(t, 3, result.FragmentCount)
	})

	t.Run("check disabled", func(t *testing.T) {
		o, err := New(Config{Key: key, Store: store, SkipIntegrity: true, Log: testLogger()})
		require.NoError(t, err)
		result := o.Resurrect(ctx, wrongRoot)
		require.True(t, result.Success, result.Error)
		assert.Equal(t, IntegrityUnchecked, result.Integrity)
	})
}

func TestResurrectLatestFailures(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)

	t.Run("agent without souls", func(t *testing.T) {
		o := newOrchestrator(t, storage.NewInMemorySoulStore(testLogger()), key)
		result := o.ResurrectLatest(ctx, "ghost")
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, interfaces.ErrAgentNotFound)
		assert.Contains(t, result.Error, "ghost")
		assert.Equal(t, PhaseStart, result.Phase)
	})

	t.Run("search error", func(t *testing.T) {
		store := new(MockSoulStore)
		searchErr := errors.New("index offline")
		store.On("SearchByAgent", mock.Anything, "agent-7", 1).Return(nil, searchErr)

		result := newOrchestrator(t, store, key).ResurrectLatest(ctx, "agent-7")
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, searchErr)
		store.AssertExpectations(t)
	})

	t.Run("latest object missing", func(t *testing.T) {
		store := new(MockSoulStore)
		store.On("SearchByAgent", mock.Anything, "agent-7", 1).Return([]interfaces.ObjectID{"abc"}, nil)
		store.On("Download", mock.Anything, interfaces.ObjectID("abc")).Return(nil, interfaces.ErrObjectNotFound)

		result := newOrchestrator(t, store, key).ResurrectLatest(ctx, "agent-7")
		assert.False(t, result.Success)
		assert.Equal(t, interfaces.ObjectID("abc"), result.ObjectID)
		assert.ErrorIs(t, result.Err, interfaces.ErrObjectNotFound)
		store.AssertExpectations(t)
	})
}

func TestFullCeremonyTagsAndFailures(t *testing.T) {
	ctx := context.Background()
	key := testKey(t)

	t.Run("agent id tag merged with caller tags", func(t *testing.T) {
		store := new(MockSoulStore)
		uploadErr := errors.New("gateway rejected upload")
		store.On("Upload", mock.Anything, mock.Anything, map[string]string{
			interfaces.AgentIDTag: "agent-7",
			"Model":               "m-1",
		}).Return(interfaces.Receipt{}, uploadErr)

		receipt, result := newOrchestrator(t, store, key).FullCeremony(ctx, threeFragmentSoul(), map[string]string{"Model": "m-1"})
		assert.Nil(t, receipt)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, uploadErr)
		assert.Contains(t, result.Error, "Upload failed")
		store.AssertExpectations(t)
	})

	t.Run("invalid soul never reaches the store", func(t *testing.T) {
		store := new(MockSoulStore)
		soul := threeFragmentSoul()
		soul.Fragments[0].Weight = 1.5

		receipt, result := newOrchestrator(t, store, key).FullCeremony(ctx, soul, nil)
		assert.Nil(t, receipt)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, interfaces.ErrInvalidRecord)
		store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("nil soul", func(t *testing.T) {
		receipt, result := newOrchestrator(t, new(MockSoulStore), key).FullCeremony(ctx, nil, nil)
		assert.Nil(t, receipt)
		assert.ErrorIs(t, result.Err, interfaces.ErrInvalidRecord)
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	key := testKey(t)
	id := storeEncoded(t, store, threeFragmentSoul(), key)

	o := newOrchestrator(t, store, key)
	o.Close()

	result := o.Resurrect(ctx, id)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "closed")

	_, result = o.FullCeremony(ctx, threeFragmentSoul(), nil)
	assert.False(t, result.Success)
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemorySoulStore(testLogger())
	m := metrics.NewRevivalMetrics(prometheus.NewRegistry(), "test")

	o, err := New(Config{Key: testKey(t), Store: store, Log: testLogger(), Metrics: m})
	require.NoError(t, err)

	_, result := o.FullCeremony(ctx, threeFragmentSoul(), nil)
	require.True(t, result.Success)
	o.ResurrectLatest(ctx, "ghost")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("success", string(PhaseDone))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("failure", string(PhaseStart))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Integrity.WithLabelValues(string(IntegrityVerified))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ceremonies.WithLabelValues("success")))
}
