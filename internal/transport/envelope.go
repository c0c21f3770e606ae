package transport

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope carries one emitted event between processes. Args must be values
// structpb can represent; numbers come back as float64.
type Envelope struct {
	Channel string
	Origin  string
	Args    []any
}

func (e *Envelope) toStruct() (*structpb.Struct, error) {
	args := e.Args
	if args == nil {
		args = []any{}
	}
	s, err := structpb.NewStruct(map[string]any{
		"channel": e.Channel,
		"origin":  e.Origin,
		"args":    args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Channel, err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct) (*Envelope, error) {
	fields := s.GetFields()
	channel := fields["channel"].GetStringValue()
	if channel == "" {
		return nil, fmt.Errorf("%w: no channel", ErrMalformedEnvelope)
	}
	env := &Envelope{
		Channel: channel,
		Origin:  fields["origin"].GetStringValue(),
		Args:    []any{},
	}
	if list := fields["args"].GetListValue(); list != nil {
		env.Args = list.AsSlice()
	}
	return env, nil
}

// Marshal encodes env in protobuf binary form.
func Marshal(env *Envelope) ([]byte, error) {
	s, err := env.toStruct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func Unmarshal(data []byte) (*Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return fromStruct(&s)
}

// MarshalJSON encodes env with protojson, for text frames.
func MarshalJSON(env *Envelope) ([]byte, error) {
	s, err := env.toStruct()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

func UnmarshalJSON(data []byte) (*Envelope, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return fromStruct(&s)
}
