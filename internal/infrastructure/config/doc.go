// Package config loads and validates the MAVGate configuration.
//
// Configuration is read once at startup from a single YAML file and may be
// overridden by MAVGATE_* environment variables. Only serial transports are
// reconfigurable at runtime; every other setting requires a restart.
//
// # Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
