package astm

import "strings"

// MessageType is the coarse classification the inbound pipeline uses to
// decide how a received transmission should be routed.
type MessageType string

const (
	// MessageKeepAlive is a Header/Terminator-only transmission
	// exchanged purely to keep a connection alive; it carries no
	// Patient/Order/Result/Query content.
	MessageKeepAlive MessageType = "KEEP_ALIVE"

	// MessageResult carries one or more Result records: instrument
	// output for previously ordered tests.
	MessageResult MessageType = "RESULT"

	// MessageQuery carries Query records: the instrument is asking the
	// LIS for demographic or order information.
	MessageQuery MessageType = "QUERY"

	// MessageOrder carries Order records with no accompanying Results:
	// the instrument is announcing or echoing a test order.
	MessageOrder MessageType = "ORDER"

	// MessageUnknown is anything that does not match the other four
	// shapes; the pipeline still persists it but does not attempt to
	// interpret its content.
	MessageUnknown MessageType = "UNKNOWN"
)

// Classify scans raw transmission text line by line and returns its
// MessageType from the record types present. It deliberately works on
// the raw text rather than a parsed Message so the pipeline can detect
// keep-alives before persisting or parsing anything. Results take
// priority over Queries, and Queries over bare Orders, matching how
// instruments mix record types in a single transmission.
func Classify(raw []byte) MessageType {
	var hasH, hasL, hasP, hasO, hasR, hasM, hasQ bool
	for _, line := range strings.FieldsFunc(string(raw), func(r rune) bool {
		return r == rune(CR) || r == rune(LF)
	}) {
		t := byte(0)
		if len(line) > 0 {
			t = strings.ToUpper(line[:1])[0]
		}
		switch t {
		case 'H':
			hasH = true
		case 'L':
			hasL = true
		case 'P':
			hasP = true
		case 'O':
			hasO = true
		case 'R':
			hasR = true
		case 'M':
			hasM = true
		case 'Q':
			hasQ = true
		}
	}

	switch {
	case hasH && hasL && !hasP && !hasO && !hasR && !hasM && !hasQ:
		return MessageKeepAlive
	case hasR || hasM:
		return MessageResult
	case hasQ:
		return MessageQuery
	case hasO:
		return MessageOrder
	default:
		return MessageUnknown
	}
}
