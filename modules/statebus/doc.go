// Package statebus fans out feed item transitions and global activity events.
//
// # Overview
//
// The bus replaces polling: every mutation of an item's playback phase is
// published once, right after it happens, to the listeners of that item id.
// A separate global list receives changes of the reduced system-ready flag.
//
//	b := statebus.New(logger)
//	defer b.Close()
//
//	unsub, _ := b.Subscribe("item-42", func(v statebus.ItemView) {
//	    player.SetPlaying(v.ShouldPlay)
//	})
//	defer unsub()
//
// # Delivery Semantics
//
// Delivery is synchronous, in subscription order, over a snapshot of the
// listener list taken when Publish starts:
//   - A panicking listener is recovered, logged and counted in Stats.Faults;
//     the remaining listeners still run.
//   - Unsubscribe is idempotent and may be called from inside a listener.
//     A listener removed during a delivery is not called for the rest of it.
//   - No replay: a new listener only observes events published after it
//     subscribed. Read the current state from the coordinator for the first
//     render.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Ordering per item id holds for a
// single publisher; the coordinator is that publisher.
package statebus
