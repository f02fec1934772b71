package astm

import "strconv"

// Record is one pipe-delimited ASTM/LIS2-A record line. Type is the
// single-letter record identifier (H, P, O, Q, R, M, L, C, ...).
// Fields holds the complete field list exactly as it appeared on the
// wire, including the leading type field, so field numbering matches
// the 1-based convention vendor manuals use: Field(1) is the record
// type, Field(2) is the sequence number for every type except H (where
// it is the delimiter definition).
type Record struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}

// Result is a Result record together with the manufacturer-information
// (M) records that followed it on the wire before the next R, O or L
// record.
type Result struct {
	Record
	Manufacturer []Record
}

// Message is a fully parsed ASTM transmission: the flat sequence of
// records bracketed by a Header and a Terminator record, exactly as
// they appeared on the wire, plus indices into the records most callers
// need without re-scanning.
type Message struct {
	Records    []Record
	Header     *Record
	Patients   []Record
	Orders     []Record
	Results    []Result
	Queries    []Record
	Comments   []Record
	Terminator *Record
}

// Field returns the 1-based field n of r, or "" if it is absent.
// Field(1) is the record type letter itself.
func (r Record) Field(n int) string {
	if n < 1 || n > len(r.Fields) {
		return ""
	}
	return r.Fields[n-1]
}

// Component returns the 1-based caret component c of field n, or "" if
// either is absent.
func (r Record) Component(n, c int) string {
	parts := splitComponents(r.Field(n))
	if c < 1 || c > len(parts) {
		return ""
	}
	return parts[c-1]
}

// Seq returns the record's sequence number from field 2, or 0 if the
// field is absent or not an integer (Header records carry the delimiter
// definition there instead).
func (r Record) Seq() int {
	n, err := strconv.Atoi(r.Field(2))
	if err != nil {
		return 0
	}
	return n
}

// SetField assigns the 1-based field n of r, growing Fields with empty
// strings as needed so a sparse record builds out to the last populated
// field.
func (r *Record) SetField(n int, v string) {
	if n < 1 {
		return
	}
	for len(r.Fields) < n {
		r.Fields = append(r.Fields, "")
	}
	r.Fields[n-1] = v
}

// ResultCount returns the number of Result records in m.
func (m Message) ResultCount() int { return len(m.Results) }

// OrderCount returns the number of Order records in m.
func (m Message) OrderCount() int { return len(m.Orders) }

// FromRecords indexes a flat record slice into a Message, attaching M
// records to the Result record they follow. Record types outside the
// indexed set are carried in Records but not specially indexed.
func FromRecords(records []Record) Message {
	msg := Message{Records: records}
	current := -1 // index of the Result that following M records attach to
	for i := range records {
		rec := records[i]
		switch rec.Type {
		case "H":
			if msg.Header == nil {
				msg.Header = &records[i]
			}
		case "L":
			msg.Terminator = &records[i]
			current = -1
		case "P":
			msg.Patients = append(msg.Patients, rec)
		case "O":
			msg.Orders = append(msg.Orders, rec)
			current = -1
		case "R":
			msg.Results = append(msg.Results, Result{Record: rec})
			current = len(msg.Results) - 1
		case "Q":
			msg.Queries = append(msg.Queries, rec)
		case "C":
			msg.Comments = append(msg.Comments, rec)
		case "M":
			if current >= 0 {
				msg.Results[current].Manufacturer = append(msg.Results[current].Manufacturer, rec)
			}
		}
	}
	return msg
}

func splitComponents(field string) []string {
	if field == "" {
		return nil
	}
	out := []string{}
	start := 0
	for i := 0; i < len(field); i++ {
		if field[i] == ComponentDelimiter[0] {
			out = append(out, field[start:i])
			start = i + 1
		}
	}
	return append(out, field[start:])
}
