// Package message defines the values exchanged between a Yar client and the server.
//
// A Request is decoded from the frame body by the packager named in the header.
// A Response is built by the dispatcher and serialized back in the same packager.
// Both are short-lived and owned by the connection or task that created them.
package message

// Status codes carried in Response.Status.
const (
	StatusOK        = 0x0
	StatusException = 0x40
)

// Request carries a single Yar call.
//
//   - ID:     correlation id, must equal the frame header id
//   - Method: route name, e.g. "user.find"
//   - Params: positional arguments in call order
type Request struct {
	ID     uint32 `msgpack:"i" json:"i"`
	Method string `msgpack:"m" json:"m"`
	Params []any  `msgpack:"p" json:"p"`
}

// Response is the canonical reply shape. Field order is the wire order.
type Response struct {
	ID     uint32 `msgpack:"i" json:"i"`
	Status int    `msgpack:"s" json:"s"`
	Result any    `msgpack:"r" json:"r"`
	Output any    `msgpack:"o" json:"o"`
	Error  any    `msgpack:"e" json:"e"` // "" or ErrorDetail
}

// ErrorDetail is the "e" member of an EXCEPTION response.
type ErrorDetail struct {
	Message string `msgpack:"message" json:"message"`
	Code    int    `msgpack:"code" json:"code"`
	File    string `msgpack:"file" json:"file"`
	Line    int    `msgpack:"line" json:"line"`
}

// NewResponse returns an OK response for id carrying result.
func NewResponse(id uint32, result any) *Response {
	if result == nil {
		result = ""
	}
	return &Response{
		ID:     id,
		Status: StatusOK,
		Result: result,
		Output: "",
		Error:  "",
	}
}

// NewException returns an EXCEPTION response for id carrying detail.
func NewException(id uint32, detail ErrorDetail) *Response {
	return &Response{
		ID:     id,
		Status: StatusException,
		Result: "",
		Output: "",
		Error:  detail,
	}
}

// Failed reports whether the response carries an exception.
func (r *Response) Failed() bool {
	return r.Status != StatusOK
}
