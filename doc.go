// Package shelfsync provides an offline-capable synchronization layer that
// keeps a locally edited product catalog consistent with an authoritative
// remote catalog service.
//
// Local edits are recorded as durable change-sets in an on-disk queue and
// drained to the remote service by a background worker. Remote changes are
// pulled incrementally using the catalog revision as a cursor. Conflicts are
// detected per field and surfaced as conflict records for consumer review;
// the server's version of an entity always wins locally.
//
// # Basic Usage
//
// Open a sync service with default configuration:
//
//	svc, err := shelfsync.New(shelfsync.DefaultConfig("sync"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	svc.Start()
//
// Record a local edit by handing over the post-edit snapshot and the
// fields that changed:
//
//	err := svc.EnqueueUpdate(product, map[string]any{"price": 1200})
//
// Inspect unresolved conflicts:
//
//	for _, c := range svc.ConsumeConflicts() {
//	    fmt.Println(c.ProductKey, c.Fields)
//	}
//
// Change-sets survive process restarts: the queue file is written atomically
// after every state change, and a missing or unreadable file is treated as an
// empty queue rather than a startup failure.
package shelfsync
