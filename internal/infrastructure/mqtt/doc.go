// Package mqtt publishes sqlitehelper migration notifications over MQTT.
//
// This package manages:
//   - Connection to an MQTT broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - A migration.Observer that publishes one message per committed step
//
// # Topics
//
//	<prefix>/status                      retained online/offline status
//	<prefix>/migrations/<db>/event       one message per up or down step
//	<prefix>/migrations/<db>/status      retained result of the last run
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	pub := mqtt.NewPublisher(client, "app.db", logger)
//	opts.Observers = append(opts.Observers, pub)
package mqtt
