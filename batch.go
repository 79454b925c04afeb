package xchannel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// BatchAdaptor splits one raw payload into sub-messages. Next returns
// ok=false once the batch is exhausted. Close is always called by the
// dispatcher.
type BatchAdaptor interface {
	Next(ctx context.Context) (msg string, ok bool, err error)
	Close() error
}

// BatchAdaptorFactory creates an adaptor over one raw payload.
type BatchAdaptorFactory func(raw string) BatchAdaptor

// DelimitedBatchAdaptor splits on a fixed delimiter, skipping blank entries.
type DelimitedBatchAdaptor struct {
	scanner *bufio.Scanner
	closed  bool
}

// NewDelimitedBatchAdaptor returns an adaptor splitting raw on delimiter.
// An empty delimiter splits on newlines.
func NewDelimitedBatchAdaptor(raw, delimiter string) *DelimitedBatchAdaptor {
	if delimiter == "" {
		delimiter = "\n"
	}
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	sc.Split(splitOn(delimiter))
	return &DelimitedBatchAdaptor{scanner: sc}
}

// DelimitedBatch returns a factory for NewDelimitedBatchAdaptor.
func DelimitedBatch(delimiter string) BatchAdaptorFactory {
	return func(raw string) BatchAdaptor { return NewDelimitedBatchAdaptor(raw, delimiter) }
}

func (a *DelimitedBatchAdaptor) Next(ctx context.Context) (string, bool, error) {
	if a.closed {
		return "", false, nil
	}
	for a.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if tok := a.scanner.Text(); strings.TrimSpace(tok) != "" {
			return tok, true, nil
		}
	}
	return "", false, a.scanner.Err()
}

func (a *DelimitedBatchAdaptor) Close() error {
	a.closed = true
	return nil
}

func splitOn(delim string) bufio.SplitFunc {
	sep := []byte(delim)
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, sep); i >= 0 {
			return i + len(sep), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

var (
	batchRegistryMu sync.RWMutex
	batchRegistry   = map[string]BatchAdaptorFactory{
		DataTypeRaw:  DelimitedBatch("\n"),
		DataTypeJSON: DelimitedBatch("\n"),
	}
)

// RegisterBatchAdaptor registers the default batch splitter of a data type.
func RegisterBatchAdaptor(dataType string, factory BatchAdaptorFactory) error {
	if dataType == "" {
		return errors.New("batch data type must not be empty")
	}
	if factory == nil {
		return errors.New("batch adaptor factory must not be nil")
	}
	batchRegistryMu.Lock()
	batchRegistry[dataType] = factory
	batchRegistryMu.Unlock()
	return nil
}

// NewBatchAdaptor returns the registered splitter for dataType.
func NewBatchAdaptor(dataType string) (BatchAdaptorFactory, error) {
	batchRegistryMu.RLock()
	f, ok := batchRegistry[dataType]
	batchRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("batch adaptor %q not registered", dataType)
	}
	return f, nil
}
