package hl7v2

import (
	"context"
	"strings"

	"github.com/trickstertwo/xchannel"
)

var _ xchannel.BatchAdaptor = (*BatchAdaptor)(nil)

// BatchAdaptor splits an HL7 batch file into messages, one per MSH segment.
// FHS, BHS, BTS and FTS envelope segments are dropped.
type BatchAdaptor struct {
	lines []string
	pos   int
}

// NewBatchAdaptor returns an adaptor over raw.
func NewBatchAdaptor(raw string) *BatchAdaptor {
	return &BatchAdaptor{lines: strings.Split(Normalize(raw), SegmentSeparator)}
}

// Batch is the xchannel.BatchAdaptorFactory for HL7 v2.
func Batch(raw string) xchannel.BatchAdaptor { return NewBatchAdaptor(raw) }

func (a *BatchAdaptor) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var msg []string
	for a.pos < len(a.lines) {
		line := a.lines[a.pos]
		switch segmentName(line) {
		case "FHS", "BHS", "BTS", "FTS", "":
			a.pos++
			continue
		case "MSH":
			if len(msg) > 0 {
				return strings.Join(msg, SegmentSeparator), true, nil
			}
		default:
			if len(msg) == 0 {
				// Segments before the first MSH are not part of any message.
				a.pos++
				continue
			}
		}
		msg = append(msg, line)
		a.pos++
	}
	if len(msg) > 0 {
		return strings.Join(msg, SegmentSeparator), true, nil
	}
	return "", false, nil
}

func (a *BatchAdaptor) Close() error {
	a.lines = nil
	a.pos = 0
	return nil
}

func segmentName(line string) string {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return ""
	}
	return line[:3]
}
