package stream

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frames travel as google.protobuf.Struct over grpc's default proto codec.
// The hub messages keep their JSON field names inside the struct, so the
// wire envelope is the same {"type": ..., ...} document on both ends.

func toFrame(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	frame := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return frame, nil
}

func fromFrame(frame *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(frame)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
