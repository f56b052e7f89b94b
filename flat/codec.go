package flat

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidPayload is returned when a body cannot be unpacked into its
// schema type. Transport treats this as a protocol desync.
var ErrInvalidPayload = errors.New("flat: invalid payload")

// Pack serializes a schema record into a payload body.
func Pack(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("flat pack %T: %w", v, err)
	}
	return data, nil
}

// Unpack deserializes a payload body into the given schema record.
func Unpack(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %T (%d bytes): %v", ErrInvalidPayload, v, len(data), err)
	}
	return nil
}
