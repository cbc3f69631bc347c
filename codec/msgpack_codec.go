package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec is the Yar "MSGPACK" packager and the server default.
// Untyped maps decode as map[string]any.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Name() string {
	return MsgpackName
}
