package routing

import "encoding/binary"

// putUint32/getUint32 are the shared little-endian helpers used by the
// simple-mode payload encoders in this package (CAN, LIN, FlexRay,
// Ethernet), matching the byte order of transport.Frame's own header.
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }
