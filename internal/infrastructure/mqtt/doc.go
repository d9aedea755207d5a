// Package mqtt connects the input emulator to an MQTT broker.
//
// The broker is an optional carrier for the driver's control channel: when
// ipc.transport is "mqtt", every IPC channel name is used as a topic and
// frames travel as unretained messages. Each client also keeps a retained
// presence document on inputemu/system/status/<client_id>, backed by a last
// will so a crashed driver shows up as offline.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	transport := ipc.NewMQTTTransport(client, byte(cfg.MQTT.QoS))
//
// Subscriptions are remembered and restored after a reconnect. Handlers run
// on paho's goroutines; a panicking handler is recovered and logged.
package mqtt
