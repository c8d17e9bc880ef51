// Package revival brings stored souls back: it downloads an encrypted
// payload, decodes it with the soul key and compares the recomputed Merkle
// root with the one recorded at storage time.
//
// Outcomes are reported as a Result rather than a Go error. A failed step
// sets Success to false, names the phase reached and keeps the classified
// error in Result.Err. An integrity mismatch is not a failure: the soul is
// returned with Integrity set to IntegrityMismatch.
//
// The key is supplied directly or reconstructed from threshold shares:
//
//	o, err := revival.New(revival.Config{
//	    Shares: shares,
//	    Store:  store,
//	    Log:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	defer o.Close()
//	result := o.ResurrectLatest(ctx, "agent-7")
//
// An Orchestrator may be used from several goroutines, but Close must not
// run concurrently with other calls.
package revival
