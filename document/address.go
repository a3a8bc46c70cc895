package document

import (
	"fmt"
	"strings"

	"github.com/CJ-Wright/SHED/errors"
)

// DataAddress is a path of successive keys walked into a document body to
// reach a literal value. The dotted form "data.det_image" addresses
// doc["data"]["det_image"].
type DataAddress []string

// ParseDataAddress splits a dotted path into a DataAddress. An empty
// string yields an empty address, which extracts the whole body.
func ParseDataAddress(s string) DataAddress {
	if s == "" {
		return DataAddress{}
	}
	return DataAddress(strings.Split(s, "."))
}

// String returns the dotted form of the address.
func (a DataAddress) String() string {
	return strings.Join(a, ".")
}

// Extract walks the address into a decoded document body and returns the
// value it reaches. A missing key at any step is an invalid-data error.
func (a DataAddress) Extract(body map[string]any) (any, error) {
	var current any = body
	for i, key := range a {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrUnknownDataAddress, "DataAddress", "Extract",
				fmt.Sprintf("%q: step %d is not an object", a.String(), i))
		}
		current, ok = m[key]
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrUnknownDataAddress, "DataAddress", "Extract",
				fmt.Sprintf("%q: key %q missing", a.String(), key))
		}
	}
	return current, nil
}

// ExtractFrom walks the address into a Document's body.
func (a DataAddress) ExtractFrom(doc Document) (any, error) {
	body, err := doc.Body()
	if err != nil {
		return nil, err
	}
	return a.Extract(body)
}
