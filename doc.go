// Package faultline captures process failures and delivers them
// durably. It detects unhandled panics, main-loop unresponsiveness, and
// low-level faults handed in from outside the runtime, converts each
// into a structured failure record, correlates it with the current usage
// session, and persists it to a local cache directory with the guarantee
// that the record survives process death. On the next launch it
// reconstructs, from files alone, what happened during the previous
// process's final moments.
//
// Typical embedding:
//
//	m, err := faultline.Start(faultline.Options{
//		CacheDir: cacheDir,
//		Release:  version,
//		Watchdog: faultline.WatchdogOptions{Enabled: true},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//	defer m.Recover()
//
// The outbound network transport is a collaborator behind the Transport
// interface; without one, envelopes accumulate in the cache directory
// and the faultlinectl tool can inspect them.
package faultline
