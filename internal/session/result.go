package session

import (
	"github.com/codewiresh/dcon/internal/decoder"
	"github.com/codewiresh/dcon/internal/protocol"
)

// CommandResult is one command's complete response.
type CommandResult struct {
	Command  string
	APILevel protocol.APILevel

	// RawText is every data packet of the response concatenated.
	RawText string
	// Decoded is the whole result object in JSON modes and RawText in text
	// mode. It is nil when the JSON could not be decoded.
	Decoded any

	IsError      bool
	ErrorMessage string
}

// Decode looks up key in the response. See decoder.Decode.
func (r *CommandResult) Decode(key string) (any, error) {
	return decoder.Decode(r.RawText, r.APILevel, key)
}

// DecodeInto unmarshals result.<key> into v.
func (r *CommandResult) DecodeInto(key string, v any) error {
	return decoder.DecodeInto(r.RawText, key, v)
}

// TooLarge reports whether the director refused to render the result.
func (r *CommandResult) TooLarge() bool {
	return decoder.IsTooLarge(r.RawText)
}
