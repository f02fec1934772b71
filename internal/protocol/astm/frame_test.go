package astm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFrameValidateRoundTrip(t *testing.T) {
	raw, err := BuildFrame(1, []byte("H|\\^&|||LIS"), true)
	require.NoError(t, err)

	frame, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.FN)
	assert.Equal(t, "H|\\^&|||LIS", string(frame.Data))
	assert.False(t, frame.More)
}

func TestBuildFrameIntermediateUsesETB(t *testing.T) {
	raw, err := BuildFrame(3, []byte("partial data"), false)
	require.NoError(t, err)

	frame, err := Validate(raw)
	require.NoError(t, err)
	assert.True(t, frame.More)
	assert.Equal(t, 3, frame.FN)
}

func TestBuildFrameRejectsOversizedData(t *testing.T) {
	oversized := make([]byte, FrameSizeLimit+1)
	for i := range oversized {
		oversized[i] = 'x'
	}
	_, err := BuildFrame(0, oversized, true)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameNumberWraps(t *testing.T) {
	raw, err := BuildFrame(8, []byte("x"), true)
	require.NoError(t, err)
	frame, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.FN)
}

func TestValidateAcceptsLowercaseChecksum(t *testing.T) {
	raw, err := BuildFrame(1, []byte("Q|1|^PAT1"), true)
	require.NoError(t, err)

	lowered := append([]byte(nil), raw...)
	for i := len(lowered) - 4; i < len(lowered)-2; i++ {
		if lowered[i] >= 'A' && lowered[i] <= 'F' {
			lowered[i] += 'a' - 'A'
		}
	}
	frame, err := Validate(lowered)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.FN)
}

func TestValidateRejectsOversizedReceivedFrame(t *testing.T) {
	data := make([]byte, FrameReceiveLimit+1)
	for i := range data {
		data[i] = 'x'
	}
	body := append([]byte{'1'}, data...)
	body = append(body, CR, ETX)
	sum := checksum(body)
	raw := append([]byte{STX}, body...)
	raw = append(raw, []byte(hexChecksum(sum))...)
	raw = append(raw, CR, LF)

	_, err := Validate(raw)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// Fixture frames spelled out byte for byte from the E1381 grammar
// (STX FN DATA CR TERM C1 C2 CR LF), with checksums computed by hand,
// so codec regressions cannot hide behind build/validate
// self-consistency.

func TestValidateFixtureEmptyDataFrame(t *testing.T) {
	// '1'(0x31) + CR(0x0D) + ETX(0x03) = 0x41.
	raw := []byte{STX, '1', CR, ETX, '4', '1', CR, LF}

	frame, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.FN)
	assert.Empty(t, frame.Data)
	assert.False(t, frame.More)

	built, err := BuildFrame(1, nil, true)
	require.NoError(t, err)
	assert.Equal(t, raw, built)
}

func TestValidateFixtureTerminatorRecordFrame(t *testing.T) {
	// '2'+'L'+'|'+'1'+'|'+'N'+CR+ETX = 517 mod 256 = 0x05.
	raw := []byte{STX, '2', 'L', '|', '1', '|', 'N', CR, ETX, '0', '5', CR, LF}

	frame, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.FN)
	assert.Equal(t, "L|1|N", string(frame.Data))
	assert.False(t, frame.More)

	built, err := BuildFrame(2, []byte("L|1|N"), true)
	require.NoError(t, err)
	assert.Equal(t, raw, built)
}

func TestValidateRejectsFrameShorterThanMinimum(t *testing.T) {
	// Seven bytes: an empty-data frame missing the structural CR
	// between DATA and TERM.
	raw := []byte{STX, '1', ETX, '3', '4', CR, LF}
	_, err := Validate(raw)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestValidateDetectsChecksumMismatch(t *testing.T) {
	raw, err := BuildFrame(0, []byte("hello"), true)
	require.NoError(t, err)

	corrupted := append([]byte(nil), raw...)
	corrupted[3] ^= 0xFF

	_, err = Validate(corrupted)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestValidateRejectsMissingEnvelope(t *testing.T) {
	_, err := Validate([]byte("not a frame"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestExtractHelpers(t *testing.T) {
	raw, err := BuildFrame(2, []byte("R|1|^^^glucose|100"), true)
	require.NoError(t, err)

	frame, err := Validate(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, ExtractFN(frame))
	assert.Equal(t, []byte("R|1|^^^glucose|100"), ExtractData(frame))
}
