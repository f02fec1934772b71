package astm

import "errors"

// Sentinel errors classifying the failure taxonomy a caller needs to
// distinguish between recoverable, retryable, and fatal conditions.
var (
	// ErrChecksumMismatch indicates a frame's trailing checksum did not
	// match the computed mod-256 sum of its contents. Recoverable: the
	// sender is expected to retransmit after a NAK.
	ErrChecksumMismatch = errors.New("astm: frame checksum mismatch")

	// ErrMalformedFrame indicates a frame was missing required
	// delimiters or had an unparsable frame number. Recoverable.
	ErrMalformedFrame = errors.New("astm: malformed frame")

	// ErrFrameTooLarge indicates a frame's data exceeds the size the
	// receiver accepts, or a caller attempted to build a single frame
	// whose data exceeds FrameSizeLimit without intermediate splitting.
	ErrFrameTooLarge = errors.New("astm: frame data exceeds size limit")

	// ErrACKTimeout indicates the sender did not receive ACK/NAK within
	// the configured window after transmitting ENQ or a frame. The
	// exchange is abandoned at once: only a NAK causes a frame to be
	// retransmitted, a timeout never does.
	ErrACKTimeout = errors.New("astm: timed out waiting for ACK")

	// ErrReadTimeout indicates no bytes were received on an established
	// connection within the idle window while waiting for ENQ, or within
	// the ACK wait while an inbound exchange was in progress. Fatal: the
	// connection is stale and is torn down.
	ErrReadTimeout = errors.New("astm: read timeout")

	// ErrPeerRefused indicates the peer answered the initial ENQ with
	// NAK or EOT instead of ACK. The send fails; the caller may retry a
	// whole new session later.
	ErrPeerRefused = errors.New("astm: peer refused session")

	// ErrLinkLost indicates the peer closed the connection (EOF) in the
	// middle of an exchange. Fatal for the connection.
	ErrLinkLost = errors.New("astm: link lost")

	// ErrMaxRetriesExceeded indicates the retransmit limit for a single
	// frame was reached. Fatal for the connection.
	ErrMaxRetriesExceeded = errors.New("astm: maximum frame retransmit attempts exceeded")

	// ErrConnectionClosed indicates an operation was attempted on a
	// state machine that has already transitioned out of service.
	ErrConnectionClosed = errors.New("astm: connection closed")

	// ErrEmptyMessage indicates a transmission carried no parsable
	// record text.
	ErrEmptyMessage = errors.New("astm: empty message")

	// ErrIncompleteMessage indicates a record stream did not begin with
	// a Header record or did not end with a Terminator record.
	ErrIncompleteMessage = errors.New("astm: message missing header or terminator record")
)
