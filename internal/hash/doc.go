// Package hash provides the checksum that frames write-ahead log records.
//
// Every segment and checkpoint record carries a CRC32C over its header
// (after the checksum field) and payload. Writers checksum the contiguous
// encoded record:
//
//	sum := hash.CRC32C(buf[4:])
//
// Readers hold header and payload in separate buffers:
//
//	sum := hash.Frame(header[4:], payload)
package hash
