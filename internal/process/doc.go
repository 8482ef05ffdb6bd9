// Package process supervises long-running units.
//
// A Manager builds a Unit from its Factory, runs it and, when the unit fails,
// builds a fresh one and runs that after RestartDelay. The relay node is such
// a unit: once it gives up reconnecting to the broker its Run returns an
// error, and the next unit starts over with a new node identity and a fresh
// attempt budget.
//
// Features:
//   - Restart on failure with optional doubling backoff
//   - Restart budget (MaxRestartAttempts, 0 = unlimited)
//   - Errors implementing RecoverableError can veto restarts
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "relay",
//	    Factory:          newRelayUnit,
//	    RestartOnFailure: true,
//	    RestartDelay:     5 * time.Second,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
