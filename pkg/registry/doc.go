// Package registry maps peripheral addresses to device sessions on the
// controller side.
//
// A Registry is an explicit instance created at controller start and shut
// down at controller stop. Resolving an address creates the session for its
// endpoint on first reference; every later address naming the same host and
// port shares that session.
//
//	reg, _ := registry.New(registry.DefaultConfig(), logger, nil)
//	out, _ := reg.ResolveOutputString("0[80][100]:192.168.200.1")
//	out.Set(true) // SETANGLE 0 80 once the peripheral is reachable
//
//	reg.ResolveInputString("8:192.168.200.1", func(in address.Input, grounded bool) {
//	    ...
//	})
//
//	head, _ := reg.ResolveSignalHeadString("SM1-SH1$0x24$R6$G14:192.168.200.1")
//	head.SetAppearance(wire.AppearanceFlashRed)
//
// None of these calls touch the network. Commands are queued on the session
// and coalesced per channel or signal head while the peripheral is
// unreachable.
package registry
