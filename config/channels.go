package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/trickstertwo/xchannel"
	"gopkg.in/yaml.v3"
)

// ChannelsFile is the YAML document holding channel definitions:
//
//	channels:
//	  - id: adt-inbound
//	    source:
//	      type: mllp
//	      properties: {addr: ":6661"}
//	    destinations:
//	      - name: archive
//	        metaDataId: 1
//	        type: file
//	        properties: {dir: /var/hl7/out}
type ChannelsFile struct {
	Channels []xchannel.ChannelDefinition `yaml:"channels"`
}

// LoadChannels reads and validates the channel definitions in path.
func LoadChannels(path string) ([]xchannel.ChannelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read channels: %w", err)
	}
	defs, err := ParseChannels(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return defs, nil
}

// ParseChannels decodes a ChannelsFile document. Unknown keys are errors.
// Every definition is validated and channel ids must be unique.
func ParseChannels(data []byte) ([]xchannel.ChannelDefinition, error) {
	var f ChannelsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode channels: %w", err)
	}

	seen := make(map[string]bool, len(f.Channels))
	var errs []error
	for _, def := range f.Channels {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[def.ID] {
			errs = append(errs, fmt.Errorf("channel %s: duplicate id", def.ID))
		}
		seen[def.ID] = true
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Channels, nil
}
