package proto

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// wireMessage is satisfied by every message type in this package.
type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// binaryCodec registers itself under the name "proto", the same name
// grpc-go's own default codec uses. Registering a codec under an
// already-registered name overrides it (see encoding.RegisterCodec),
// which is exactly what lets grpc.Dial/grpc.NewServer keep working
// with zero extra options while this package's hand-rolled wire
// format replaces the reflection-based one a real protoc-gen-go
// output would install.
type binaryCodec struct{}

func (binaryCodec) Name() string { return "proto" }

func (binaryCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("proto: cannot marshal %T: not a wire message", v)
	}
	return m.Marshal()
}

func (binaryCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("proto: cannot unmarshal into %T: not a wire message", v)
	}
	return m.Unmarshal(data)
}

func init() {
	encoding.RegisterCodec(binaryCodec{})
}
