package model

import "time"

// Unit is the processing unit taken from the daily compiled CSV.
type Unit struct {
	Date          time.Time
	Row           Row
	RawDate       string
	ModelCode     string
	ProcessSerial string
	SerialNumber  string
	// PassNG is the unit's pass/fail verdict as exported, empty when absent.
	PassNG        string
}

// MaterialLot links a material slot of a unit to the lot it was built from.
type MaterialLot struct {
	Material      string
	MaterialCode  string
	LotNumber     string
	ProcessNumber int
}
