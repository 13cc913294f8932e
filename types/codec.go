package types

import (
	"github.com/algorand/go-codec/codec"
)

// CodecHandle is used to instantiate msgpack encoders and decoders with
// canonical settings, so equal values always encode to equal bytes.
var CodecHandle *codec.MsgpackHandle

func init() {
	CodecHandle = new(codec.MsgpackHandle)
	CodecHandle.ErrorIfNoField = true
	CodecHandle.ErrorIfNoArrayExpand = true
	CodecHandle.Canonical = true
	CodecHandle.RecursiveEmptyCheck = true
	CodecHandle.WriteExt = true
	CodecHandle.PositiveIntUnsigned = true
	CodecHandle.Raw = true
}

// Encode serializes obj with CodecHandle
func Encode(obj interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, CodecHandle)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode deserializes data into objptr with CodecHandle
func Decode(data []byte, objptr interface{}) error {
	dec := codec.NewDecoderBytes(data, CodecHandle)
	return dec.Decode(objptr)
}
