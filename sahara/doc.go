// Package sahara implements the host side of the Qualcomm Sahara protocol.
//
// # Protocol Overview
//
// A device in Emergency Download mode announces itself with a Hello packet.
// Every packet is a little-endian header followed by a fixed-size body:
//
//	[COMMAND(4)][LENGTH(4)][BODY...]
//
// In image transfer mode the device then pulls the programmer image from the
// host with ReadData requests, in any order and possibly overlapping, until it
// sends EndImageTransfer. The host answers with Done and the device confirms
// with DoneResponse before jumping into the programmer, which speaks Firehose.
//
//	host                          device
//	                     <-  Hello(version, mode)
//	HelloResponse(success) ->
//	                     <-  ReadData(offset, length)
//	image[offset:+length]  ->
//	                         ...
//	                     <-  EndImageTransfer(status)
//	Done                   ->
//	                     <-  DoneResponse(complete)
//
// # Usage
//
//	engine := sahara.New(t, sahara.WithTimeout(5*time.Second))
//	if err := engine.Run(ctx, programmer); err != nil {
//	    // re-enumerate the device before retrying
//	}
//
// Memory debug and command modes are diagnostic paths and are rejected with
// UnsupportedModeError.
package sahara
