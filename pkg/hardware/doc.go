// Package hardware holds the drivers behind a peripheral: Sim for tests and
// simulated devices, RPIO for a Raspberry Pi with servos on the hardware
// PWM pins and track sensors on pulled-up GPIO inputs, and MCP for signal
// lamps on MCP23017 I2C expanders. Pi joins RPIO and MCP.
//
// The Pi has two PWM channels. BCM 12 and 18 share PWM0 and BCM 13 and 19
// share PWM1, so RPIO drives at most two servos and refuses a configuration
// that puts two servos on one channel. Servo channel numbers are logical;
// the servos list in the device config maps each to its BCM pin.
package hardware
