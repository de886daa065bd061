// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Family tags the address family encoded in a device-to-operator datagram.
type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// SourceHeaderLenV4/V6 are the encoded length of the per-source prefix
// (family + port + ip), not counting the leading channel id.
const (
	SourceHeaderLenV4 = 1 + 2 + 4  // = 7
	SourceHeaderLenV6 = 1 + 2 + 16 // = 19
)

// SourceAddr is a UDP source address as carried on the device-to-operator
// datagram path, so the operator side can demultiplex replies per source.
type SourceAddr struct {
	Family Family
	Port   uint16
	IP     net.IP
}

// EncodeSourceAddr appends u8(family) || u16_be(port) || ip_bytes to dst and
// returns the result, per spec.md section 6.
func EncodeSourceAddr(dst []byte, a SourceAddr) ([]byte, error) {
	var ip4 [4]byte
	var ip16 [16]byte
	switch a.Family {
	case FamilyV4:
		v4 := a.IP.To4()
		if v4 == nil {
			return nil, fmt.Errorf("wire: FamilyV4 source address is not a v4 IP: %v", a.IP)
		}
		copy(ip4[:], v4)
		dst = append(dst, byte(FamilyV4))
		dst = appendU16(dst, a.Port)
		dst = append(dst, ip4[:]...)
	case FamilyV6:
		v6 := a.IP.To16()
		if v6 == nil {
			return nil, fmt.Errorf("wire: FamilyV6 source address is not a v6 IP: %v", a.IP)
		}
		copy(ip16[:], v6)
		dst = append(dst, byte(FamilyV6))
		dst = appendU16(dst, a.Port)
		dst = append(dst, ip16[:]...)
	default:
		return nil, fmt.Errorf("wire: unknown address family %d", a.Family)
	}
	return dst, nil
}

func appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}

// DecodeSourceAddr decodes u8(family) || u16_be(port) || ip_bytes from the
// front of b. It returns (addr, headerLen, ok); ok is false for truncated or
// unrecognized-family input (testable property 9 of spec.md section 8).
func DecodeSourceAddr(b []byte) (SourceAddr, int, bool) {
	if len(b) < 1 {
		return SourceAddr{}, 0, false
	}
	family := Family(b[0])
	var headerLen int
	switch family {
	case FamilyV4:
		headerLen = SourceHeaderLenV4
	case FamilyV6:
		headerLen = SourceHeaderLenV6
	default:
		return SourceAddr{}, 0, false
	}
	if len(b) < headerLen {
		return SourceAddr{}, 0, false
	}
	port := binary.BigEndian.Uint16(b[1:3])
	ip := make(net.IP, headerLen-3)
	copy(ip, b[3:headerLen])
	return SourceAddr{Family: family, Port: port, IP: ip}, headerLen, true
}

// SourceAddrFromUDP builds a SourceAddr from a *net.UDPAddr.
func SourceAddrFromUDP(a *net.UDPAddr) SourceAddr {
	if v4 := a.IP.To4(); v4 != nil {
		return SourceAddr{Family: FamilyV4, Port: uint16(a.Port), IP: v4}
	}
	return SourceAddr{Family: FamilyV6, Port: uint16(a.Port), IP: a.IP.To16()}
}

// UDPAddr converts back to a *net.UDPAddr.
func (a SourceAddr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: int(a.Port)}
}

// EncodeDeviceDatagram builds a device->operator datagram: u32_be(channel_id)
// || u8(family) || u16_be(src_port) || ip_bytes || payload (spec.md section 6).
func EncodeDeviceDatagram(channelID uint32, src SourceAddr, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 4+SourceHeaderLenV6+len(payload))
	var chanBuf [4]byte
	binary.BigEndian.PutUint32(chanBuf[:], channelID)
	buf = append(buf, chanBuf[:]...)
	buf, err := EncodeSourceAddr(buf, src)
	if err != nil {
		return nil, err
	}
	buf = append(buf, payload...)
	return buf, nil
}

// DecodeDeviceDatagram parses a device->operator datagram produced by
// EncodeDeviceDatagram.
func DecodeDeviceDatagram(b []byte) (channelID uint32, src SourceAddr, payload []byte, ok bool) {
	if len(b) < 4 {
		return 0, SourceAddr{}, nil, false
	}
	channelID = binary.BigEndian.Uint32(b[:4])
	src, hlen, ok := DecodeSourceAddr(b[4:])
	if !ok {
		return 0, SourceAddr{}, nil, false
	}
	payload = b[4+hlen:]
	return channelID, src, payload, true
}

// EncodeOperatorDatagram builds an operator->device datagram: u32_be(channel_id)
// || payload.
func EncodeOperatorDatagram(channelID uint32, payload []byte) []byte {
	buf := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(buf, channelID)
	return append(buf, payload...)
}

// DecodeOperatorDatagram parses an operator->device datagram.
func DecodeOperatorDatagram(b []byte) (channelID uint32, payload []byte, ok bool) {
	if len(b) < 4 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], true
}
