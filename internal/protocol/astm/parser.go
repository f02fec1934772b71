package astm

import "strings"

// FieldDelimiter, ComponentDelimiter and RepeatDelimiter are the default
// LIS2-A delimiter set declared by a Header record's field 2 (|\^&).
// Parse only splits on the field delimiter; callers that need repeat or
// escape handling split the raw field values themselves. Every vendor
// profile seen in practice keeps the default set.
const (
	FieldDelimiter     = "|"
	ComponentDelimiter = "^"
	RepeatDelimiter    = "\\"
)

// Parse splits the data carried by one or more frames (already
// concatenated in wire order) into records and indexes them into a
// Message. Records are separated by CR as required by E1394; LF is
// tolerated as an additional separator since the receive path inserts a
// CR LF pair at each frame boundary. A line whose record type is not a
// letter is skipped rather than aborting the message; the stream as a
// whole must still be bracketed by a Header and a Terminator record.
func Parse(data []byte) (Message, error) {
	lines := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == rune(CR) || r == rune(LF)
	})

	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		rec, ok := parseLine(line)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return Message{}, ErrEmptyMessage
	}

	msg := FromRecords(records)
	if msg.Header == nil || msg.Terminator == nil ||
		records[0].Type != "H" || records[len(records)-1].Type != "L" {
		return msg, ErrIncompleteMessage
	}
	return msg, nil
}

func parseLine(line string) (Record, bool) {
	fields := strings.Split(line, FieldDelimiter)
	t := strings.ToUpper(strings.TrimSpace(fields[0]))
	if len(t) != 1 || t[0] < 'A' || t[0] > 'Z' {
		return Record{}, false
	}
	fields[0] = t
	return Record{Type: t, Fields: fields}, true
}

// Build serializes records back into ASTM text, the inverse of Parse:
// each record's fields joined by the field delimiter, records separated
// by CR LF, with a trailing separator after the last record. It does
// not split the result into frames; callers pass the output to the
// framing layer for that.
func Build(records []Record) []byte {
	var b strings.Builder
	for _, r := range records {
		fields := r.Fields
		if len(fields) == 0 {
			fields = []string{r.Type}
		}
		b.WriteString(strings.Join(fields, FieldDelimiter))
		b.WriteByte(CR)
		b.WriteByte(LF)
	}
	return []byte(b.String())
}
