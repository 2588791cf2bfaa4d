package types

import "strings"

// dinSeparator joins the part number and serial number of a device.
const dinSeparator = "--"

// DIN is a Device Identification Number, "{partNumber}--{serialNumber}".
// It names the gateway itself or any sub-device (e.g. a battery block).
type DIN string

// JoinDIN builds a DIN from a part number and serial number.
func JoinDIN(partNumber, serialNumber string) DIN {
	return DIN(partNumber + dinSeparator + serialNumber)
}

func (d DIN) String() string {
	return string(d)
}

// Valid reports whether the DIN has both a part number and a serial number.
func (d DIN) Valid() bool {
	part, serial := d.split()
	return part != "" && serial != ""
}

// PartNumber returns the part-number half of the DIN.
func (d DIN) PartNumber() string {
	part, _ := d.split()
	return part
}

// SerialNumber returns the serial-number half of the DIN.
func (d DIN) SerialNumber() string {
	_, serial := d.split()
	return serial
}

func (d DIN) split() (string, string) {
	part, serial, ok := strings.Cut(string(d), dinSeparator)
	if !ok {
		return "", ""
	}
	return part, serial
}
