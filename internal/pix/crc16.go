// Package pix implements the Central Bank "Pix Copia e Cola" merchant-
// presented payload (BR Code): EMV-style TLV fields, key normalization
// and the CRC16/CCITT-FALSE checksum banking apps verify on paste/scan.
package pix

import "fmt"

// crcPoly and crcInit parametrize CRC-16/CCITT-FALSE. The wire format
// mandates this exact variant (MSB-first, no reflection, no final XOR);
// banking apps reject payloads checksummed any other way.
const (
	crcPoly uint16 = 0x1021
	crcInit uint16 = 0xFFFF
)

// CRC16 computes the CCITT-FALSE checksum over data.
func CRC16(data []byte) uint16 {
	crc := crcInit
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16Hex returns the checksum as 4 uppercase, zero-padded hex digits,
// the form that terminates every BR Code.
func CRC16Hex(data []byte) string {
	return fmt.Sprintf("%04X", CRC16(data))
}
