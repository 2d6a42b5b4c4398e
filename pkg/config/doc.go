// Package config loads controller and device configuration with viper.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, and RPITRAIN_* environment variables. Durations are written as
// Go duration strings ("5s", "500ms").
//
//	log:
//	  level: debug
//	session:
//	  heartbeat_interval: 5s
//	  liveness_timeout: 15s
//	  backoff:
//	    initial: 500ms
//	    max: 30s
//	layout: /etc/rpitrain/layout.yaml
//
// A device on a Pi with signal lamps on MCP23017 expanders:
//
//	flash_interval: 250ms
//	hardware:
//	  driver: rpio
//	  servos:
//	    - channel: 0
//	      pin: 18
//	  signals:
//	    enabled: true
//	    i2c_bus: 1
package config
