package hl7v2

import (
	"fmt"

	"github.com/trickstertwo/xchannel"
)

func init() {
	must(xchannel.RegisterCodec(DataType, func() xchannel.Codec { return Codec{} }))
	must(xchannel.RegisterBatchAdaptor(DataType, Batch))
	must(xchannel.RegisterResponseHandlers(DataType,
		func(props map[string]any) (xchannel.ResponseValidator, error) {
			return NewValidator(ValidatorConfigFromMap(props)), nil
		},
		func(props map[string]any) (xchannel.AutoResponder, error) {
			return NewResponder(ResponderConfigFromMap(props), nil), nil
		},
	))
}

func must(err error) {
	if err != nil {
		panic(fmt.Errorf("hl7v2: failed to register %q handlers: %w", DataType, err))
	}
}
