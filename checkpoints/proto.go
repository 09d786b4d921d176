package checkpoints

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalProto encodes the checkpoint document tree as a protobuf Struct in
// wire format, a compact alternative to the JSON form for on-robot storage.
func marshalProto(c *Checkpoint) ([]byte, error) {
	jsonData, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("failed to build checkpoint document: %v", err)
	}
	st, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint struct: %v", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	return data, nil
}

// unmarshalProto decodes a checkpoint from protobuf wire format.
func unmarshalProto(data []byte) (*Checkpoint, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
	}
	jsonData, err := json.Marshal(st.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint document: %v", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(jsonData, &c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return &c, nil
}
