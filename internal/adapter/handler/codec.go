package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries the ShopService messages over gRPC as JSON. Clients
// select it with the "application/grpc+json" content subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// Codec is the codec servers should force with grpc.ForceServerCodec.
func Codec() encoding.Codec {
	return jsonCodec{}
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
