// Package radio defines the contract between the gateway and a mesh radio driver.
//
// This package holds the abstractions every other part of meshgate is written against:
//   - Handle: a live connection to one radio (send text, send data, node lookup, reboot, close)
//   - Dialer: opens a Handle for a device path and wires the driver's inbound events to an EventSink
//   - Packet: an immutable inbound mesh packet
//   - NodeInfo: metadata the radio keeps about other mesh participants
//   - Event and Listener: the typed inbound event set (link established, link lost, packet received)
//
// The radio's link-layer protocol is the driver's business. The gateway only relies on
// the frame limit constant and the broadcast/local address conventions defined here.
//
// Example usage:
//
//	handle, err := dialer.Dial(ctx, "/dev/ttyUSB0", bus.Emit)
//	if err != nil {
//		return err
//	}
//	defer handle.Close()
//
//	err = handle.SendText(ctx, "hello mesh", radio.BroadcastAddr, radio.SendOptions{})
package radio
