package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/ntohs
// https://github.com/vishvananda/netlink/blob/e5fd1f8193dee65ec93fafde8faf67e32a34692a/order.go

// decrypt names:
// h  = host
// n  = network
// l  = long      = 32 bit
// ll = long long = 64 bit

func Htonll(val uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	return buf
}

func Htonl(val uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, val)
	return buf
}

func Ntohll(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

// PutNl writes val into buf in network order without allocating. it is used
// by fixed-size records that encode into a preallocated slot.
func PutNl(buf []byte, val uint32) {
	binary.BigEndian.PutUint32(buf, val)
}
