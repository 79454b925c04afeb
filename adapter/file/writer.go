package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/trickstertwo/xchannel"
)

var _ xchannel.Sender = (*Writer)(nil)

// Writer is a destination that writes the ENCODED content to a file named by
// the FileName template. Without Append the file is written to a temporary
// name and renamed into place.
type Writer struct {
	cfg Config
}

func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.ValidateWriter(); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg}, nil
}

// FileName expands the file name template for cm.
func (w *Writer) FileName(cm *xchannel.ConnectorMessage) string {
	return os.Expand(w.cfg.FileName, func(key string) string {
		switch key {
		case "messageId":
			return strconv.FormatInt(cm.MessageID, 10)
		case "channelId":
			return cm.ChannelID
		case "connector":
			return cm.ConnectorName
		case "metaDataId":
			return strconv.Itoa(cm.MetaDataID)
		}
		if v, ok := cm.Lookup(key); ok {
			return cast.ToString(v)
		}
		return ""
	})
}

func (w *Writer) Send(ctx context.Context, cm *xchannel.ConnectorMessage) (*xchannel.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc := cm.Encoded()
	if enc == nil {
		return nil, fmt.Errorf("file: connector message %d has no encoded content", cm.MessageID)
	}
	name := w.FileName(cm)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("file: invalid file name %q", name)
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	path := filepath.Join(w.cfg.Dir, name)

	if w.cfg.Append {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("file: %w", err)
		}
		if _, err := f.WriteString(enc.Data); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("file: write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("file: close %s: %w", path, err)
		}
	} else {
		tmp, err := os.CreateTemp(w.cfg.Dir, "."+name+".*.tmp")
		if err != nil {
			return nil, fmt.Errorf("file: %w", err)
		}
		if _, err := tmp.WriteString(enc.Data); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return nil, fmt.Errorf("file: write %s: %w", path, err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return nil, fmt.Errorf("file: close %s: %w", path, err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			_ = os.Remove(tmp.Name())
			return nil, fmt.Errorf("file: rename %s: %w", path, err)
		}
	}
	return &xchannel.Response{Status: xchannel.StatusSent, Message: path, StatusMessage: "file written"}, nil
}
