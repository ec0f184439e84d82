package chirp

// Default 7-bit I2C address, and the range the firmware accepts for
// reassignment.
const (
	AddressDefault uint16 = 0x20
	AddrMin        uint16 = 0x03
	AddrMax        uint16 = 0x77
)

// Register map.
const (
	regGetCapacitance = 0x00 // R  u16 big-endian; reading starts the next conversion
	regSetAddress     = 0x01 // W  u8 new address; write twice, then reset
	regGetAddress     = 0x02 // R  u8 current address
	regMeasureLight   = 0x03 // W  command, starts a light conversion
	regGetLight       = 0x04 // R  u16 big-endian; 0 brightest .. 65535 darkest
	regGetTemperature = 0x05 // R  s16 big-endian, tenths of a °C
	regReset          = 0x06 // W  command
	regGetVersion     = 0x07 // R  u8 firmware version
	regSleep          = 0x08 // W  command, enters deep sleep
	regGetBusy        = 0x09 // R  u8, 1 while a conversion is running
)
