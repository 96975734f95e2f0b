package localstore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Encode serialises v as canonical MongoDB Extended JSON. Dates and numeric
// types in free-form payloads survive the round trip, which plain JSON would
// flatten to strings and floats. v must encode as a document.
func Encode(v interface{}) (string, error) {
	data, err := bson.MarshalExtJSON(v, true, false)
	if err != nil {
		return "", fmt.Errorf("encoding local value: %w", err)
	}
	return string(data), nil
}

// Decode parses a value written by Encode into v.
func Decode(s string, v interface{}) error {
	if err := bson.UnmarshalExtJSON([]byte(s), true, v); err != nil {
		return fmt.Errorf("decoding local value: %w", err)
	}
	return nil
}
