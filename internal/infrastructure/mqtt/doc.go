// Package mqtt provides the broker connection shared by every MAVGate
// component that speaks MQTT.
//
// It wraps paho.mqtt.golang with connection management, automatic
// reconnection, subscription restoration, and Last Will and Testament
// publication on mavgate/system/status so consumers can detect an
// unexpected bridge death.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe("command/+/+/details", 1, handleCommand)
//	client.PublishJSON("device/1/1/HEARTBEAT", hb, 0, false)
//
// Handlers run on paho's dispatch goroutines and are wrapped with panic
// recovery; a panicking handler is logged and never takes down the
// connection.
package mqtt
