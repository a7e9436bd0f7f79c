// Package netbios is a minimal NetBIOS name service client: name queries,
// node status requests and the browse lookups built on them.
package netbios

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	typeNB     = 0x0020
	typeNBSTAT = 0x0021
	classIN    = 0x0001

	flagResponse  = 0x8000
	flagRecursion = 0x0100
	flagBroadcast = 0x0010
	rcodeMask     = 0x000f

	nbGroupFlag = 0x8000

	headerLen   = 12
	nameLen     = 15
	encodedLen  = 32
	nodeNameLen = 18
)

// Well-known name suffixes.
const (
	SuffixWorkstation    byte = 0x00
	SuffixMasterBrowsers byte = 0x01
	SuffixServer         byte = 0x20
	SuffixLocalMaster    byte = 0x1d
	SuffixBrowserElect   byte = 0x1e
)

// MasterBrowseName is registered by every local master browser with suffix
// SuffixMasterBrowsers.
const MasterBrowseName = "\x01\x02__MSBROWSE__\x02"

var (
	errShortPacket = errors.New("netbios: short packet")
	errBadName     = errors.New("netbios: malformed name")
)

// Address is one answer of a name query.
type Address struct {
	IP    net.IP
	Group bool
}

// NodeName is one entry of a node status response.
type NodeName struct {
	Name   string
	Suffix byte
	Group  bool
}

func (n NodeName) String() string {
	return fmt.Sprintf("%s<%02x>", n.Name, n.Suffix)
}

// encodeName produces the length-prefixed first-level encoding of name with
// the given suffix. The wildcard "*" is padded with NULs, everything else
// with spaces.
func encodeName(name string, suffix byte) []byte {
	var raw [nameLen + 1]byte
	pad := byte(' ')
	if name == "*" {
		pad = 0
	}
	for i := 0; i < nameLen; i++ {
		raw[i] = pad
	}
	copy(raw[:nameLen], strings.ToUpper(name))
	raw[nameLen] = suffix

	out := make([]byte, 0, encodedLen+2)
	out = append(out, encodedLen)
	for _, b := range raw {
		out = append(out, 'A'+b>>4, 'A'+b&0x0f)
	}
	return append(out, 0)
}

// decodeName reverses encodeName for the 32 encoded bytes.
func decodeName(encoded []byte) (string, byte, error) {
	if len(encoded) != encodedLen {
		return "", 0, errBadName
	}
	var raw [nameLen + 1]byte
	for i := range raw {
		hi, lo := encoded[2*i]-'A', encoded[2*i+1]-'A'
		if hi > 0x0f || lo > 0x0f {
			return "", 0, errBadName
		}
		raw[i] = hi<<4 | lo
	}
	return strings.TrimRight(string(raw[:nameLen]), " \x00"), raw[nameLen], nil
}

// buildRequest assembles a single-question request packet.
func buildRequest(id uint16, flags uint16, name string, suffix byte, qtype uint16) []byte {
	pkt := make([]byte, headerLen, headerLen+encodedLen+6)
	binary.BigEndian.PutUint16(pkt[0:], id)
	binary.BigEndian.PutUint16(pkt[2:], flags)
	binary.BigEndian.PutUint16(pkt[4:], 1) // QDCOUNT
	pkt = append(pkt, encodeName(name, suffix)...)
	pkt = binary.BigEndian.AppendUint16(pkt, qtype)
	return binary.BigEndian.AppendUint16(pkt, classIN)
}

// response is the first resource record of a name service response.
type response struct {
	id    uint16
	flags uint16
	name  string
	rtype uint16
	rdata []byte
}

func (r *response) rcode() int {
	return int(r.flags & rcodeMask)
}

// skipName advances past a (possibly compressed) name starting at off.
func skipName(pkt []byte, off int) (int, error) {
	for {
		if off >= len(pkt) {
			return 0, errShortPacket
		}
		l := int(pkt[off])
		switch {
		case l == 0:
			return off + 1, nil
		case l&0xc0 == 0xc0:
			return off + 2, nil
		}
		off += 1 + l
	}
}

func parseResponse(pkt []byte) (*response, error) {
	if len(pkt) < headerLen {
		return nil, errShortPacket
	}
	r := &response{
		id:    binary.BigEndian.Uint16(pkt[0:]),
		flags: binary.BigEndian.Uint16(pkt[2:]),
	}
	if r.flags&flagResponse == 0 {
		return nil, errors.New("netbios: not a response")
	}
	qdcount := binary.BigEndian.Uint16(pkt[4:])
	ancount := binary.BigEndian.Uint16(pkt[6:])

	off := headerLen
	for i := 0; i < int(qdcount); i++ {
		next, err := skipName(pkt, off)
		if err != nil {
			return nil, err
		}
		off = next + 4
	}
	if ancount == 0 {
		return r, nil
	}

	if off < len(pkt) && int(pkt[off]) == encodedLen && off+1+encodedLen <= len(pkt) {
		if name, _, err := decodeName(pkt[off+1 : off+1+encodedLen]); err == nil {
			r.name = name
		}
	}
	off, err := skipName(pkt, off)
	if err != nil {
		return nil, err
	}
	// type(2) class(2) ttl(4) rdlength(2)
	if off+10 > len(pkt) {
		return nil, errShortPacket
	}
	r.rtype = binary.BigEndian.Uint16(pkt[off:])
	rdlen := int(binary.BigEndian.Uint16(pkt[off+8:]))
	off += 10
	if off+rdlen > len(pkt) {
		return nil, errShortPacket
	}
	r.rdata = pkt[off : off+rdlen]
	return r, nil
}

// parseAddresses decodes NB resource data: repeated flags(2) + IPv4(4).
func parseAddresses(rdata []byte) []Address {
	addrs := make([]Address, 0, len(rdata)/6)
	for off := 0; off+6 <= len(rdata); off += 6 {
		flags := binary.BigEndian.Uint16(rdata[off:])
		ip := net.IPv4(rdata[off+2], rdata[off+3], rdata[off+4], rdata[off+5])
		addrs = append(addrs, Address{IP: ip, Group: flags&nbGroupFlag != 0})
	}
	return addrs
}

// parseNodeNames decodes NBSTAT resource data: a count followed by 18 byte
// name records.
func parseNodeNames(rdata []byte) ([]NodeName, error) {
	if len(rdata) < 1 {
		return nil, errShortPacket
	}
	count := int(rdata[0])
	if 1+count*nodeNameLen > len(rdata) {
		return nil, errShortPacket
	}
	names := make([]NodeName, 0, count)
	for i := 0; i < count; i++ {
		rec := rdata[1+i*nodeNameLen : 1+(i+1)*nodeNameLen]
		flags := binary.BigEndian.Uint16(rec[16:])
		names = append(names, NodeName{
			Name:   strings.TrimRight(string(rec[:nameLen]), " \x00"),
			Suffix: rec[nameLen],
			Group:  flags&nbGroupFlag != 0,
		})
	}
	return names, nil
}
