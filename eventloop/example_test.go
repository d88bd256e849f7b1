//go:build linux || darwin

package eventloop_test

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-squall/eventloop"
)

// Example_basicUsage demonstrates the order in which a single dispatcher
// iteration runs its work.
//
// Idle callbacks run first, then ready descriptors, then expired deadlines.
// Start returns once nothing remains.
func Example_basicUsage() {
	d, err := eventloop.New()
	if err != nil {
		fmt.Printf("Failed to create dispatcher: %v\n", err)
		return
	}
	defer d.Close()

	_, _ = d.WatchTimeout(func(events eventloop.Events) {
		fmt.Println("timer 2:", events)
	}, 20*time.Millisecond)

	_, _ = d.WatchTimeout(func(events eventloop.Events) {
		fmt.Println("timer 1:", events)
	}, 10*time.Millisecond)

	d.Call(func(events eventloop.Events) {
		fmt.Println("idle:", events)
		// queued during the drain, so deferred to the next iteration
		d.Call(func(events eventloop.Events) {
			fmt.Println("idle again:", events)
		})
	})

	if err := d.Start(context.Background()); err != nil {
		fmt.Printf("Start failed: %v\n", err)
	}

	fmt.Println("Done")

	// Output:
	// idle: IDLE
	// idle again: IDLE
	// timer 1: TIMEOUT
	// timer 2: TIMEOUT
	// Done
}

// Example_stop demonstrates stopping the dispatcher from one of its own
// callbacks. Pending work is retained, for a later Start.
func Example_stop() {
	d, err := eventloop.New()
	if err != nil {
		fmt.Printf("Failed to create dispatcher: %v\n", err)
		return
	}
	defer d.Close()

	_, _ = d.WatchTimeout(func(eventloop.Events) {
		fmt.Println("unreachable before stop")
	}, time.Hour)

	d.Call(func(eventloop.Events) {
		fmt.Println("stopping")
		d.Stop()
	})

	if err := d.Start(context.Background()); err != nil {
		fmt.Printf("Start failed: %v\n", err)
	}

	fmt.Println("timers pending:", d.Pending().Timers)

	// Output:
	// stopping
	// timers pending: 1
}
