package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

// Codec turns request params and reply values into frame payload bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec registered for codecType.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec type %d", codecType)
}

// ParseType maps a config name to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}
