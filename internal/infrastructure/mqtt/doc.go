// Package mqtt connects LinkPulse instances to an MQTT broker.
//
// The broker is the fan-out bus between instances:
//   - linkpulse/events/clicks/{linkId}: a click recorded by any instance,
//     relayed to WebSocket subscribers by every instance
//   - linkpulse/mail/outbox: password reset mails for the delivery worker
//   - linkpulse/system/status: retained online/offline status with a
//     Last Will for crash detection
//
// The client reconnects with backoff and restores its subscriptions.
// Handlers are wrapped with panic recovery.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllLinkClicks(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.LinkIDFromClickTopic(topic)
//	        relay(id, payload)
//	        return nil
//	    })
package mqtt
