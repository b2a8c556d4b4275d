// Package firehose implements the host side of the Qualcomm Firehose protocol.
//
// # Framing
//
// Every request is one self-closing element inside a <data> document:
//
//	<?xml version="1.0" ?><data><program SECTOR_SIZE_IN_BYTES="512" ... /></data>
//
// The device answers with <data> documents holding any number of <log>
// elements and at most one <response value="ACK|NAK">. Inbound bytes are
// appended to a buffer and cut into frames by a Scanner, so the way the
// transport splits transfers does not matter.
//
// # Raw mode
//
// program and read are followed by raw sector data once the device has
// answered ACK with rawmode="true". Exactly SECTOR_SIZE_IN_BYTES ×
// num_partition_sectors bytes flow, in chunks no larger than the payload size
// negotiated by configure, and the device then sends a second response.
//
//	s := firehose.New(t, firehose.WithLogCallback(printLine))
//	if _, err := s.Configure(ctx, firehose.ConfigureOptions{MemoryName: "ufs"}); err != nil {
//	    return err
//	}
//	req := firehose.Program{SectorSize: 4096, NumSectors: 256, StartSector: "6", Filename: "boot.img"}
//	if _, err := s.ExecuteRaw(ctx, req, f); err != nil {
//	    var nak *firehose.DeviceRejectedError
//	    if errors.As(err, &nak) {
//	        // entry failed, the session is still usable
//	    }
//	}
//
// # Errors
//
// A NAK is a DeviceRejectedError and only fails the request it answers.
// Timeouts, transport failures and unparseable data end the session.
package firehose
