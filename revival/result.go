package revival

import (
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
)

// Phase is the last step a resurrection attempt completed.
type Phase string

const (
	PhaseStart            Phase = "start"
	PhaseDownloaded       Phase = "downloaded"
	PhaseDecoded          Phase = "decoded"
	PhaseIntegrityChecked Phase = "integrity_checked"
	PhaseDone             Phase = "done"
)

// IntegrityStatus is the outcome of comparing the recorded Merkle root with
// the one recomputed after decoding.
type IntegrityStatus string

const (
	// IntegrityUnchecked: no root was recorded, or checking is disabled.
	IntegrityUnchecked IntegrityStatus = "unchecked"
	IntegrityVerified  IntegrityStatus = "verified"
	// IntegrityMismatch: the soul decoded but its fragments differ from the recorded root.
	IntegrityMismatch IntegrityStatus = "mismatch"
)

// Result describes one resurrection attempt. Failures are reported here
// rather than as Go errors.
type Result struct {
	Success bool             `json:"success"`
	Soul    *interfaces.Soul `json:"-"`

	ObjectID          interfaces.ObjectID `json:"object_id,omitempty"`
	IntegrityVerified bool                `json:"integrity_verified"`
	Integrity         IntegrityStatus     `json:"integrity"`
	Phase             Phase               `json:"phase"`
	Elapsed           time.Duration       `json:"elapsed_ns"`

	// Error is the human-readable cause; Err keeps the classified error for errors.Is.
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`

	FragmentCount int    `json:"fragment_count,omitempty"`
	ModelOrigin   string `json:"model_origin,omitempty"`
	SoulVersion   int    `json:"soul_version,omitempty"`
}

func (r *Result) fail(phase Phase, prefix string, err error, start time.Time) *Result {
	r.Success = false
	r.Soul = nil
	r.Phase = phase
	r.Err = err
	r.Error = prefix + ": " + err.Error()
	r.Elapsed = time.Since(start)
	return r
}
