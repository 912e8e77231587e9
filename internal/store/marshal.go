package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/studiobrain/internal/canon"
)

// marshalObject serialises a JSON object column. Nil maps become "{}" so
// the NOT NULL columns never hold the literal null.
func marshalObject(obj map[string]any) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := canon.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

func unmarshalObject(data string) (map[string]any, error) {
	obj := map[string]any{}
	if data == "" {
		return obj, nil
	}
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

func marshalStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := canon.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	items := []string{}
	if data == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return items, nil
}
