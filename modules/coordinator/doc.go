// Package coordinator guarantees that at most one feed item plays at a time.
//
// # Overview
//
// A scrolling feed mounts and unmounts items, moves the visible index, and
// reports scroll samples and host focus changes, in any order and at any rate.
// The Coordinator turns that stream into a single playing item:
//
//	host event → event loop → registry / pattern memory
//	           → arbiter (who may play?) → transitions on the state bus
//	           → prefetch planner → pre-warm requests to the HandleFactory
//
// Hosts never poll. They subscribe per item and render ItemView.ShouldPlay:
//
//	c, _ := coordinator.New(coordinator.DefaultConfig(factory))
//	defer c.Close()
//
//	c.Mount(coordinator.ItemProps{ID: "v1", Index: 0, Locator: url, IsVisible: true, IsFeedFocused: true})
//	view, _ := c.Item("v1") // first render, no replay on subscribe
//	unsub, _ := c.Subscribe("v1", func(v coordinator.ItemView) { player.SetPlaying(v.ShouldPlay) })
//	defer unsub()
//
// # Guarantees
//
//   - At most one item is Active. Promotion demotes the previous item to
//     Paused in the same registry step.
//   - An item holds a handle iff it is Attached, Active or Paused. Every handle
//     delivered by the factory is released exactly once.
//   - Transitions of one item reach its listeners once each, in order.
//
// # Event Loop
//
// Every mutating call is queued on a mailbox. The first caller that finds no
// drainer runs queued events until the mailbox is empty, so a call from a
// single goroutine has taken effect when it returns. Calls made from inside a
// listener or an inline factory completion are queued behind the current
// event; they never re-enter it. Reads (Item, Items, Status) take the
// registry read lock and never wait for the loop.
//
// # Handle Requests
//
// The arbiter requests at most one handle per item at a time. A completion
// for an item that is no longer the target, not at the visible index and not
// in the pre-warm plan is attached and detached immediately (complete then
// discard, no cancellation). A failed activation marks the item Errored until
// ResetItem; a failed pre-warm is logged, counted and otherwise ignored.
//
// Each request runs inside a "coordinator.create_handle" span of the global
// OpenTelemetry tracer provider unless Config.Tracer is set.
package coordinator
