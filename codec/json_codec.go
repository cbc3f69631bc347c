package codec

import (
	"encoding/json"
)

// JSONCodec is the Yar "JSON" packager.
// Numbers decode as float64 inside untyped params.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return JSONName
}
