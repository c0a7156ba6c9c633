/*
Package events distributes scheduler activity to monitors.

The scheduler publishes one Event per monitor message (a client asking for
a compile server, a job starting, a job finishing). Every monitor session
subscribes to the Broker and forwards the events' messages on its
connection.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(events.NewEvent(events.EventJobBegin, "builder1",
		&protocol.MonitorJobBegin{JobID: 7, StartTime: now, Host: "builder1"}))

	ev := <-sub

Publishing never blocks on subscribers: each subscription buffers 50
events and drops anything beyond that.
*/
package events
