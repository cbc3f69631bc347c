// Package codec provides the structured-value packagers named by the
// package_name field of the Yar frame header.
package codec

import "strings"

// Packager names as they appear on the wire, right-padded to 8 bytes.
const (
	MsgpackName = "MSGPACK"
	JSONName    = "JSON"
)

// Codec encodes and decodes frame payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

var codecs = map[string]Codec{
	MsgpackName: &MsgpackCodec{},
	JSONName:    &JSONCodec{},
}

// Default is used when a frame names no packager or one we do not know.
func Default() Codec {
	return codecs[MsgpackName]
}

// GetCodec returns the codec registered under name. Lookup is case-insensitive.
func GetCodec(name string) (Codec, bool) {
	c, ok := codecs[strings.ToUpper(strings.TrimSpace(name))]
	return c, ok
}

// ForPackager resolves a header tag, falling back to Default.
func ForPackager(name string) Codec {
	if c, ok := GetCodec(name); ok {
		return c
	}
	return Default()
}
