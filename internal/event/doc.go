// Package event provides an in-process pub-sub bus for coordination events.
//
// Managers publish ownership changes (sessions starting and terminating,
// locks granted and released, tasks claimed and reclaimed) without knowing
// who consumes them. The metrics collector and the live dashboard
// subscribe.
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and are shielded from each other's panics.
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeLockGranted, func(e event.Event) {
//	    g := e.(event.GrantedEvent)
//	    fmt.Println(g.Name, "->", g.SessionID)
//	})
//	bus.Publish(event.NewGrantedEvent(event.KindLock, "db-migrate", "s-1"))
//
// # Event Type Naming Convention
//
// Event types follow "category.action": session.started, lock.granted,
// task.claimed, record.reclaimed.
package event
