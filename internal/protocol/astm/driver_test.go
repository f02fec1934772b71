package astm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriverFindsOrthoVision(t *testing.T) {
	d, err := NewDriver("ortho-vision")
	require.NoError(t, err)
	assert.Equal(t, "Ortho Vision", d.InstrumentName())
	assert.Equal(t, "LIS2-A", d.ASTMVersion())
	assert.Equal(t, "ortho-vision", d.ConfigDescriptor().Identifier)
}

func TestNewDriverUnknownReturnsError(t *testing.T) {
	_, err := NewDriver("does-not-exist")
	assert.Error(t, err)
}

func TestNewDriverReturnsFreshInstancePerCall(t *testing.T) {
	a, err := NewDriver("ortho-vision")
	require.NoError(t, err)
	b, err := NewDriver("ortho-vision")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestDriverParseBuildRoundTrip(t *testing.T) {
	d, err := NewDriver("ortho-vision")
	require.NoError(t, err)

	msg, err := d.Parse(sampleResultText())
	require.NoError(t, err)

	built, err := d.Build(msg)
	require.NoError(t, err)

	again, err := d.Parse(built)
	require.NoError(t, err)
	assert.Equal(t, msg.Records, again.Records)
}

func TestDriverSupports(t *testing.T) {
	d, err := NewDriver("ortho-vision")
	require.NoError(t, err)

	assert.True(t, d.Supports(sampleResultText()))
	assert.False(t, d.Supports([]byte("no records here")))
}

func TestOrthoVisionFieldExtraction(t *testing.T) {
	d, err := NewDriver("ortho-vision")
	require.NoError(t, err)
	gd := d.(*genericDriver)

	p := Record{Type: "P", Fields: []string{"P", "1", "", "PAT123^ALT"}}
	assert.Equal(t, "PAT123", gd.PatientID(p))

	o := Record{Type: "O", Fields: []string{"O", "1", "SPEC1", "", "^^^GLU", "R", "", "20260115083000"}}
	collected := gd.SpecimenCollectedAt(o)
	assert.Equal(t, time.Date(2026, 1, 15, 8, 30, 0, 0, time.Local), collected)

	r := Record{Type: "R", Fields: []string{"R", "1", "^^^GLU", "98", "mg/dL", "A"}}
	value, units, abnormal := gd.ResultValue(r)
	assert.Equal(t, "98", value)
	assert.Equal(t, "mg/dL", units)
	assert.True(t, abnormal)
}

func TestRegisterDriverOverridesExisting(t *testing.T) {
	RegisterDriver("test-driver", func() Driver {
		return &genericDriver{name: "Original", version: "LIS2-A"}
	})
	RegisterDriver("test-driver", func() Driver {
		return &genericDriver{name: "Test", version: "LIS2-A"}
	})
	d, err := NewDriver("test-driver")
	require.NoError(t, err)
	assert.Equal(t, "Test", d.InstrumentName())

	assert.Contains(t, DriverIdentifiers(), "test-driver")
}
