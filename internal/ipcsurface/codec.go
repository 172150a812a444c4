package ipcsurface

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype this codec answers to: requests
// negotiate it via grpc.CallContentSubtype(codecName), and the server
// picks the matching encoding.Codec out of the global registry by name.
const codecName = "json"

// jsonCodec implements encoding.Codec over encoding/json, standing in for
// the protobuf codec the teacher's generated pb package would otherwise
// supply (see DESIGN.md's ipcsurface entry for why no .proto/generated
// code is used here).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
