package rpc

import (
	"encoding/json"
	"fmt"
)

// Request is a client RPC request in externally tagged form. Variant
// names the operation; Body is the variant payload, nil for unit
// variants like Ping.
type Request struct {
	Variant string
	Body    json.RawMessage
}

// NewRequest builds a request, JSON-encoding the payload. A nil
// payload produces a unit variant.
func NewRequest(variant string, payload any) (*Request, error) {
	req := &Request{Variant: variant}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", variant, err)
		}
		req.Body = body
	}
	return req, nil
}

// MarshalJSON encodes the external tagging: "Variant" for unit
// variants, {"Variant": body} otherwise.
func (r *Request) MarshalJSON() ([]byte, error) {
	return marshalTagged(r.Variant, r.Body)
}

// UnmarshalJSON decodes both tagged forms.
func (r *Request) UnmarshalJSON(data []byte) error {
	variant, body, err := unmarshalTagged(data)
	if err != nil {
		return err
	}
	r.Variant = variant
	r.Body = body
	return nil
}

// DecodeBody unmarshals the variant payload into out.
func (r *Request) DecodeBody(out any) error {
	if r.Body == nil {
		return fmt.Errorf("%s has no payload", r.Variant)
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", r.Variant, err)
	}
	return nil
}

// Response is a client RPC response, tagged the same way as Request.
type Response struct {
	Variant string
	Body    json.RawMessage
}

// NewResponse builds a response, JSON-encoding the payload.
func NewResponse(variant string, payload any) (*Response, error) {
	resp := &Response{Variant: variant}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", variant, err)
		}
		resp.Body = body
	}
	return resp, nil
}

// ErrorResponse builds the standard Error response variant.
func ErrorResponse(message string) *Response {
	body, _ := json.Marshal(map[string]string{"message": message})
	return &Response{Variant: "Error", Body: body}
}

// MarshalJSON encodes the external tagging.
func (r *Response) MarshalJSON() ([]byte, error) {
	return marshalTagged(r.Variant, r.Body)
}

// UnmarshalJSON decodes both tagged forms.
func (r *Response) UnmarshalJSON(data []byte) error {
	variant, body, err := unmarshalTagged(data)
	if err != nil {
		return err
	}
	r.Variant = variant
	r.Body = body
	return nil
}

func marshalTagged(variant string, body json.RawMessage) ([]byte, error) {
	if variant == "" {
		return nil, fmt.Errorf("empty variant")
	}
	if body == nil {
		return json.Marshal(variant)
	}
	return json.Marshal(map[string]json.RawMessage{variant: body})
}

func unmarshalTagged(data []byte) (string, json.RawMessage, error) {
	var variant string
	if err := json.Unmarshal(data, &variant); err == nil {
		return variant, nil, nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return "", nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(tagged) != 1 {
		return "", nil, fmt.Errorf("envelope must have exactly one variant key, got %d", len(tagged))
	}
	for v, body := range tagged {
		return v, body, nil
	}
	return "", nil, fmt.Errorf("invalid envelope")
}
