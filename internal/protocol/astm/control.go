// Package astm implements the ASTM E1381 framing layer and E1394/LIS2-A
// record layer used to exchange messages with laboratory instruments.
package astm

// Control bytes defined by ASTM E1381.
const (
	STX byte = 0x02
	ETX byte = 0x03
	ETB byte = 0x17
	ENQ byte = 0x05
	ACK byte = 0x06
	NAK byte = 0x15
	EOT byte = 0x04
	CR  byte = 0x0D
	LF  byte = 0x0A
)

// FrameSizeLimit is the maximum number of data bytes carried in a single
// frame before the sender must split the record across an intermediate
// (ETB-terminated) frame.
const FrameSizeLimit = 240

// FrameReceiveLimit is the largest frame data size the receiver
// tolerates from a peer before NAKing the frame. Slightly above
// FrameSizeLimit to accept instruments that count the trailing record
// CR or the envelope bytes against the limit differently.
const FrameReceiveLimit = 247

// MaxFrameNumber is the highest value a frame sequence number reaches
// before wrapping back to 0.
const MaxFrameNumber = 7
