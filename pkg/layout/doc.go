// Package layout gives names to peripheral addresses.
//
// A layout file lists turnouts, sensors and signals:
//
//	turnouts:
//	  - name: yard-west
//	    address: "0[80][100]:192.168.200.1"
//	    initial: closed
//	sensors:
//	  - name: platform-1
//	    address: "8:192.168.200.1"
//	signals:
//	  - name: home
//	    address: "SH1$0x24$R6$G14:192.168.200.1"
//	    initial: red
//
// Binding a layout resolves every address through the session registry and
// queues the initial position of each turnout and the initial appearance of
// each signal that has one, so they are set as soon as their peripherals
// become reachable.
package layout
