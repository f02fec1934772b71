package astm

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Driver maps a specific instrument's record dialect onto the generic
// Message model. Most instruments follow LIS2-A closely enough that the
// generic Parse/Build pair suffices; a driver carries the handful of
// field positions (specimen ID, collection timestamp, result value
// layout) that vary between vendors as a FieldMap table rather than
// per-vendor code paths.
type Driver interface {
	// InstrumentName identifies the vendor/model this driver speaks
	// for, used as the registry key and in configuration
	// (instrument.driver_identifier).
	InstrumentName() string

	// ASTMVersion is the protocol revision the driver expects in the
	// Header record's version field.
	ASTMVersion() string

	// Parse decodes raw transmission text into a Message.
	Parse(raw []byte) (Message, error)

	// Build serializes a Message back into transmission text ready for
	// framing.
	Build(msg Message) ([]byte, error)

	// Supports reports whether raw looks like a transmission this
	// driver can parse, used when a port is shared across firmware
	// revisions.
	Supports(raw []byte) bool

	// ConfigDescriptor exposes the driver's field mapping so operators
	// can inspect what a given driver_identifier resolves to.
	ConfigDescriptor() FieldMap
}

// FieldMap is the table of 1-based field positions a driver uses to
// locate the vendor-variable fields within each record type. Positions
// follow the convention that field 1 is the record type letter.
type FieldMap struct {
	Identifier string

	PatientID        int // P record: practice-assigned patient ID
	PatientName      int // P record: patient name components
	OrderSpecimenID  int // O record: specimen ID
	OrderTestID      int // O record: universal test ID
	OrderCollectedAt int // O record: specimen collection timestamp
	ResultTestID     int // R record: universal test ID
	ResultValue      int // R record: measurement value
	ResultUnits      int // R record: units
	ResultStatus     int // R record: result status flag
	ResultCompletedAt int // R record: test completion timestamp
	QuerySpecimenID  int // Q record: starting range specimen ID
}

// genericDriver implements Driver for any instrument whose dialect is
// fully described by a FieldMap.
type genericDriver struct {
	name    string
	version string
	fields  FieldMap
}

func (d *genericDriver) InstrumentName() string        { return d.name }
func (d *genericDriver) ASTMVersion() string           { return d.version }
func (d *genericDriver) ConfigDescriptor() FieldMap    { return d.fields }
func (d *genericDriver) Parse(raw []byte) (Message, error) { return Parse(raw) }

func (d *genericDriver) Build(msg Message) ([]byte, error) {
	if len(msg.Records) == 0 {
		return nil, ErrEmptyMessage
	}
	return Build(msg.Records), nil
}

// Supports accepts any transmission whose Header record declares this
// driver's ASTM version, or declares none at all.
func (d *genericDriver) Supports(raw []byte) bool {
	msg, err := Parse(raw)
	if err != nil || msg.Header == nil {
		return false
	}
	version := msg.Header.Field(13)
	return version == "" || strings.EqualFold(version, d.version)
}

// PatientID extracts the patient identifier from a Patient record using
// this driver's field layout.
func (d *genericDriver) PatientID(p Record) string {
	return p.Component(d.fields.PatientID, 1)
}

// SpecimenCollectedAt extracts an Order record's specimen collection
// timestamp, or the zero time when the field is absent or unparsable.
func (d *genericDriver) SpecimenCollectedAt(o Record) time.Time {
	t, err := ParseTimestamp(o.Field(d.fields.OrderCollectedAt))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ResultValue extracts a Result record's value, units, and an
// "abnormal" flag from its abnormality field.
func (d *genericDriver) ResultValue(r Record) (value, units string, abnormal bool) {
	value = r.Field(d.fields.ResultValue)
	units = r.Field(d.fields.ResultUnits)
	abnormal = r.Field(d.fields.ResultValue+2) == "A"
	return value, units, abnormal
}

// orthoVisionFields is the reference field mapping for the Ortho Vision
// Analyzer, a blood-bank instrument speaking LIS2-A. The specimen
// collection timestamp sits at field 8 of the Order record on current
// firmware.
var orthoVisionFields = FieldMap{
	Identifier:        "ortho-vision",
	PatientID:         4,
	PatientName:       6,
	OrderSpecimenID:   3,
	OrderTestID:       5,
	OrderCollectedAt:  8,
	ResultTestID:      3,
	ResultValue:       4,
	ResultUnits:       5,
	ResultStatus:      9,
	ResultCompletedAt: 13,
	QuerySpecimenID:   3,
}

var (
	driversMu sync.RWMutex
	drivers   = map[string]func() Driver{}
)

// RegisterDriver adds a driver factory under identifier. Re-registering
// the same identifier replaces the previous factory. A factory is
// invoked once per accepted connection, so a driver may carry
// per-session state.
func RegisterDriver(identifier string, factory func() Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[identifier] = factory
}

// NewDriver instantiates a fresh driver for identifier, or returns an
// error when no driver is registered under it.
func NewDriver(identifier string) (Driver, error) {
	driversMu.RLock()
	factory, ok := drivers[identifier]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("astm: no driver registered for %q", identifier)
	}
	return factory(), nil
}

// DriverIdentifiers returns the registered driver identifiers, for the
// config wizard and validation messages.
func DriverIdentifiers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for id := range drivers {
		out = append(out, id)
	}
	return out
}

func init() {
	RegisterDriver("ortho-vision", func() Driver {
		return &genericDriver{name: "Ortho Vision", version: "LIS2-A", fields: orthoVisionFields}
	})
	// generic-lis2a accepts any conforming instrument with the default
	// field layout, useful for bench testing against simulators.
	RegisterDriver("generic-lis2a", func() Driver {
		return &genericDriver{name: "Generic LIS2-A", version: "LIS2-A", fields: FieldMap{
			Identifier:        "generic-lis2a",
			PatientID:         4,
			PatientName:       6,
			OrderSpecimenID:   3,
			OrderTestID:       5,
			OrderCollectedAt:  8,
			ResultTestID:      3,
			ResultValue:       4,
			ResultUnits:       5,
			ResultStatus:      9,
			ResultCompletedAt: 13,
			QuerySpecimenID:   3,
		}}
	})
}
