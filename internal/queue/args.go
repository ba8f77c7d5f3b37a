package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Args are the arguments of a job. Only scalar values cross the queue
// boundary: strings, booleans, integers and floats.
type Args map[string]any

// Validate rejects non-scalar values.
func (a Args) Validate() error {
	for k, v := range a {
		switch v.(type) {
		case string, bool, int, int32, int64, uint32, float32, float64, json.Number:
		default:
			return fmt.Errorf("argument %q has non-scalar type %T", k, v)
		}
	}
	return nil
}

func (a Args) encode() (string, error) {
	if a == nil {
		a = Args{}
	}
	if err := a.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal args: %w", err)
	}
	return string(data), nil
}

func decodeArgs(s string) (Args, error) {
	args := Args{}
	if s == "" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return args, nil
}

// String returns argument key as a string.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q is %T, not a string", key, v)
	}
	return s, nil
}

// Int64 returns argument key as an integer.
func (a Args) Int64(key string) (int64, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %q is not an integer: %w", key, err)
		}
		return i, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("argument %q is not an integer: %v", key, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q is not an integer: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("argument %q is %T, not an integer", key, v)
}
