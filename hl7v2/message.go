package hl7v2

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const SegmentSeparator = "\r"

var (
	ErrNotHL7         = errors.New("hl7v2: message must start with an MSH segment")
	ErrBadEncoding    = errors.New("hl7v2: invalid MSH encoding characters")
	ErrBadPath        = errors.New("hl7v2: invalid field path")
	ErrSegmentMissing = errors.New("hl7v2: segment not found")
)

// Delimiters are the encoding characters declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters is |^~\&.
var DefaultDelimiters = Delimiters{Field: '|', Component: '^', Repetition: '~', Escape: '\\', SubComponent: '&'}

func (d Delimiters) encodingChars() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

// Segment is one ER7 line. Fields[0] is the segment name; for MSH Fields[1]
// is the field separator and Fields[2] the encoding characters, so field
// numbers match the HL7 definition everywhere.
type Segment struct {
	Fields []string
}

// Name returns the three letter segment id.
func (s *Segment) Name() string {
	if len(s.Fields) == 0 {
		return ""
	}
	return s.Fields[0]
}

// Message is a parsed ER7 message.
type Message struct {
	Delimiters Delimiters
	Segments   []*Segment
}

// Normalize converts \r\n and \n segment terminators to \r and trims
// surrounding blank lines.
func Normalize(data string) string {
	data = strings.ReplaceAll(data, "\r\n", SegmentSeparator)
	data = strings.ReplaceAll(data, "\n", SegmentSeparator)
	return strings.Trim(data, SegmentSeparator+" \t")
}

// Parse parses ER7 text.
func Parse(data string) (*Message, error) {
	data = Normalize(data)
	if len(data) < 8 || !strings.HasPrefix(data, "MSH") {
		return nil, ErrNotHL7
	}
	d := Delimiters{
		Field:        data[3],
		Component:    data[4],
		Repetition:   data[5],
		Escape:       data[6],
		SubComponent: data[7],
	}
	seen := map[byte]bool{}
	for _, c := range []byte{d.Field, d.Component, d.Repetition, d.Escape, d.SubComponent} {
		if seen[c] || c == '\r' || c == '\n' {
			return nil, ErrBadEncoding
		}
		seen[c] = true
	}

	msg := &Message{Delimiters: d}
	sep := string(d.Field)
	for _, line := range strings.Split(data, SegmentSeparator) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, sep)
		if parts[0] == "MSH" {
			// MSH-1 is the separator itself.
			fields := make([]string, 0, len(parts)+1)
			fields = append(fields, "MSH", sep)
			fields = append(fields, parts[1:]...)
			parts = fields
		}
		msg.Segments = append(msg.Segments, &Segment{Fields: parts})
	}
	return msg, nil
}

// Encode renders the message as ER7 with \r terminators.
func (m *Message) Encode() string {
	var b strings.Builder
	sep := string(m.Delimiters.Field)
	for i, seg := range m.Segments {
		if i > 0 {
			b.WriteString(SegmentSeparator)
		}
		if seg.Name() == "MSH" && len(seg.Fields) > 1 {
			b.WriteString("MSH")
			b.WriteString(sep)
			b.WriteString(strings.Join(seg.Fields[2:], sep))
			continue
		}
		b.WriteString(strings.Join(seg.Fields, sep))
	}
	return b.String()
}

func (m *Message) String() string { return m.Encode() }

// Segment returns the first segment named name.
func (m *Message) Segment(name string) *Segment {
	for _, s := range m.Segments {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Path addresses a value as SEG.field[.component[.subcomponent]], 1-based.
type Path struct {
	Segment      string
	Field        int
	Component    int
	SubComponent int
}

// ParsePath parses paths such as "MSH.9.1" or "PID.5.1.2".
func ParsePath(p string) (Path, error) {
	parts := strings.Split(p, ".")
	if len(parts) < 2 || len(parts) > 4 || len(parts[0]) != 3 {
		return Path{}, fmt.Errorf("%w: %q", ErrBadPath, p)
	}
	out := Path{Segment: strings.ToUpper(parts[0])}
	nums := []*int{&out.Field, &out.Component, &out.SubComponent}
	for i, s := range parts[1:] {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return Path{}, fmt.Errorf("%w: %q", ErrBadPath, p)
		}
		*nums[i] = n
	}
	return out, nil
}

// Get returns the value at path, looking at the first repetition only.
// Missing values return "".
func (m *Message) Get(path string) (string, error) {
	p, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	seg := m.Segment(p.Segment)
	if seg == nil {
		return "", nil
	}
	if p.Field >= len(seg.Fields) {
		return "", nil
	}
	value := seg.Fields[p.Field]
	if p.Segment == "MSH" && p.Field <= 2 {
		return value, nil
	}
	if p.Component == 0 {
		return value, nil
	}
	if i := strings.IndexByte(value, m.Delimiters.Repetition); i >= 0 {
		value = value[:i]
	}
	value = nth(value, m.Delimiters.Component, p.Component)
	if p.SubComponent == 0 {
		return value, nil
	}
	return nth(value, m.Delimiters.SubComponent, p.SubComponent), nil
}

// MustGet is Get ignoring path errors.
func (m *Message) MustGet(path string) string {
	v, _ := m.Get(path)
	return v
}

// Set replaces the value at path, growing the segment as needed. The
// segment must exist.
func (m *Message) Set(path, value string) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	seg := m.Segment(p.Segment)
	if seg == nil {
		return fmt.Errorf("%w: %s", ErrSegmentMissing, p.Segment)
	}
	if p.Segment == "MSH" && p.Field <= 2 {
		return fmt.Errorf("%w: MSH-1 and MSH-2 are fixed", ErrBadPath)
	}
	for len(seg.Fields) <= p.Field {
		seg.Fields = append(seg.Fields, "")
	}
	if p.Component == 0 {
		seg.Fields[p.Field] = value
		return nil
	}
	field := seg.Fields[p.Field]
	if p.SubComponent == 0 {
		seg.Fields[p.Field] = setNth(field, m.Delimiters.Component, p.Component, value)
		return nil
	}
	comp := nth(field, m.Delimiters.Component, p.Component)
	comp = setNth(comp, m.Delimiters.SubComponent, p.SubComponent, value)
	seg.Fields[p.Field] = setNth(field, m.Delimiters.Component, p.Component, comp)
	return nil
}

// AddSegment appends a segment built from fields (name first).
func (m *Message) AddSegment(fields ...string) *Segment {
	s := &Segment{Fields: fields}
	m.Segments = append(m.Segments, s)
	return s
}

func nth(s string, sep byte, n int) string {
	for i := 1; i < n; i++ {
		j := strings.IndexByte(s, sep)
		if j < 0 {
			return ""
		}
		s = s[j+1:]
	}
	if j := strings.IndexByte(s, sep); j >= 0 {
		return s[:j]
	}
	return s
}

func setNth(s string, sep byte, n int, value string) string {
	parts := strings.Split(s, string(sep))
	for len(parts) < n {
		parts = append(parts, "")
	}
	parts[n-1] = value
	return strings.Join(parts, string(sep))
}
