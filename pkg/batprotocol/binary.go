package batprotocol

import (
	"bytes"

	"github.com/gogo/protobuf/jsonpb"
	"github.com/gogo/protobuf/proto"
	"github.com/gogo/protobuf/types"
	"github.com/pkg/errors"
)

// The binary format is the protobuf encoding of a google.protobuf.Struct holding the JSON document.
// Both formats therefore carry exactly the same information.

func jsonToBinary(document []byte) ([]byte, error) {
	var s types.Struct
	unmarshaler := jsonpb.Unmarshaler{}
	if err := unmarshaler.Unmarshal(bytes.NewReader(document), &s); err != nil {
		return nil, errors.WithStack(err)
	}
	data, err := proto.Marshal(&s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

func binaryToJSON(data []byte) ([]byte, error) {
	var s types.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, errors.WithStack(err)
	}
	var buf bytes.Buffer
	marshaler := jsonpb.Marshaler{}
	if err := marshaler.Marshal(&buf, &s); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}
