package formats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/Faultbox/midgard-assets/pkg/container"
)

// object is one level of a parsed metadata document. Values stay raw until a
// typed accessor asks for them so each field can report its own error.
type object struct {
	path   string
	fields map[string]json.RawMessage
}

// openMetadata validates the envelope of c against kind and parses its
// metadata root object.
func openMetadata(c *container.Container, kind container.Kind) (object, error) {
	if c.Kind != kind {
		return object{}, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, c.Kind, kind)
	}
	if c.Version != Version {
		return object{}, fmt.Errorf("%w: %s version %d", ErrUnsupportedVersion, kind, c.Version)
	}
	return parseObject(c.Metadata)
}

func parseObject(data []byte) (object, error) {
	stripped := jsonc.ToJSON(data)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return object{}, fmt.Errorf("%w: metadata root is %s, want object", ErrTypeMismatch, typeErr.Value)
		}
		return object{}, fmt.Errorf("%w: %w", ErrMalformedMetadata, err)
	}
	if fields == nil {
		return object{}, fmt.Errorf("%w: metadata root is null, want object", ErrTypeMismatch)
	}
	return object{fields: fields}, nil
}

func (o object) name(key string) string {
	if o.path == "" {
		return key
	}
	return o.path + "." + key
}

// raw returns the raw value of key. Explicit nulls count as a type mismatch
// rather than as absent.
func (o object) raw(key string) (json.RawMessage, bool, error) {
	v, ok := o.fields[key]
	if !ok {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false, fmt.Errorf("%w: %q is null", ErrTypeMismatch, o.name(key))
	}
	return v, true, nil
}

// decode unmarshals the value of key into dst. It reports whether the key
// was present.
func (o object) decode(key string, dst any) (bool, error) {
	v, ok, err := o.raw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(v, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return true, fmt.Errorf("%w: %q: got %s", ErrTypeMismatch, o.name(key), typeErr.Value)
		}
		return true, fmt.Errorf("%w: %q: %w", ErrMalformedMetadata, o.name(key), err)
	}
	return true, nil
}

func (o object) require(key string, dst any) error {
	ok, err := o.decode(key, dst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingField, o.name(key))
	}
	return nil
}

func (o object) str(key string) (string, error) {
	var s string
	err := o.require(key, &s)
	return s, err
}

func (o object) optStr(key string) (string, bool, error) {
	var s string
	ok, err := o.decode(key, &s)
	return s, ok, err
}

func (o object) u64(key string) (uint64, error) {
	var n uint64
	err := o.require(key, &n)
	return n, err
}

func (o object) u32(key string) (uint32, error) {
	var n uint32
	err := o.require(key, &n)
	return n, err
}

func (o object) child(key string) (object, error) {
	v, ok, err := o.raw(key)
	if err != nil {
		return object{}, err
	}
	if !ok {
		return object{}, fmt.Errorf("%w: %q", ErrMissingField, o.name(key))
	}
	c, err := parseObject(v)
	if err != nil {
		return object{}, fmt.Errorf("%q: %w", o.name(key), err)
	}
	c.path = o.name(key)
	return c, nil
}

func (o object) optChild(key string) (object, bool, error) {
	if _, ok := o.fields[key]; !ok {
		return object{}, false, nil
	}
	c, err := o.child(key)
	return c, err == nil, err
}

// text decodes a required string field through parse, wrapping parse
// failures as ErrInvalidValue.
func text[T any](o object, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	s, err := o.str(key)
	if err != nil {
		return zero, err
	}
	v, err := parse(s)
	if err != nil {
		return zero, fmt.Errorf("%w: %q: %w", ErrInvalidValue, o.name(key), err)
	}
	return v, nil
}

// build marshals meta and wraps it with payload in a version 1 container.
func build(kind container.Kind, meta any, payload []byte) (*container.Container, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding %s metadata: %w", kind, err)
	}
	if payload == nil {
		payload = []byte{}
	}
	return &container.Container{
		Kind:     kind,
		Version:  Version,
		Metadata: data,
		Payload:  payload,
	}, nil
}
