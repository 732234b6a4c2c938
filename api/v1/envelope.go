package apiv1

import (
	"encoding/base64"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Struct field names used by the Mailbox service.
const (
	FieldSession  = "session"
	FieldRole     = "role"
	FieldStrategy = "strategy"
	FieldCapacity = "capacity"
	FieldEncoding = "encoding"
)

// Envelope is one OKVS message addressed by session and authoring role.
// On the wire it is a structpb.Struct with the encoding in base64.
type Envelope struct {
	Session  string `json:"session"`
	Role     string `json:"role"`
	Strategy string `json:"strategy"`
	Capacity int    `json:"capacity"`
	Encoding []byte `json:"encoding"`
}

// ToStruct converts the envelope to its wire form.
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		FieldSession:  e.Session,
		FieldRole:     e.Role,
		FieldStrategy: e.Strategy,
		FieldCapacity: e.Capacity,
		FieldEncoding: base64.StdEncoding.EncodeToString(e.Encoding),
	})
}

// EnvelopeFromStruct parses and checks a wire envelope.
func EnvelopeFromStruct(s *structpb.Struct) (*Envelope, error) {
	session, role, err := Address(s)
	if err != nil {
		return nil, err
	}

	fields := s.GetFields()
	strategy := fields[FieldStrategy].GetStringValue()
	if strategy == "" {
		return nil, fmt.Errorf("missing %s", FieldStrategy)
	}

	capacity := fields[FieldCapacity].GetNumberValue()
	if capacity < 1 || capacity > math.MaxInt32 || capacity != math.Trunc(capacity) {
		return nil, fmt.Errorf("invalid %s %v", FieldCapacity, capacity)
	}

	encoding, err := base64.StdEncoding.DecodeString(fields[FieldEncoding].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FieldEncoding, err)
	}

	return &Envelope{
		Session:  session,
		Role:     role,
		Strategy: strategy,
		Capacity: int(capacity),
		Encoding: encoding,
	}, nil
}

// AddressStruct builds a Fetch or Discard request. Discard ignores role.
func AddressStruct(session, role string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSession: structpb.NewStringValue(session),
		FieldRole:    structpb.NewStringValue(role),
	}}
}

// Address extracts session and role from a request.
func Address(s *structpb.Struct) (session, role string, err error) {
	fields := s.GetFields()
	session = fields[FieldSession].GetStringValue()
	if session == "" {
		return "", "", fmt.Errorf("missing %s", FieldSession)
	}
	role = fields[FieldRole].GetStringValue()
	return session, role, nil
}
