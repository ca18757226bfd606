// Package natsclient wraps a NATS connection for the NATS transport.
//
// A Client owns one connection. Core subscriptions deliver live messages.
// ConsumeLastPerSubject attaches an ordered JetStream consumer that first
// replays the last stored message of each matching subject, which plays the
// role of MQTT retained messages, and then follows new messages:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithMaxReconnects(-1),
//	    natsclient.WithReconnectWait(2*time.Second),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.ConsumeLastPerSubject(ctx, "SENSORS", []string{"sensors.>"},
//	    func(m natsclient.Msg) { ... })
//
// Reconnection is handled by nats.go. Status changes are reported through
// the With*Callback options.
package natsclient
