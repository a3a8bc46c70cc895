package document

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/CJ-Wright/SHED/errors"
)

// Name identifies the kind of an event-model document.
type Name string

// Document names in run lifecycle order.
const (
	NameStart      Name = "start"
	NameDescriptor Name = "descriptor"
	NameEvent      Name = "event"
	NameStop       Name = "stop"
)

// IsValid checks whether the name is one of the four event-model kinds.
func (n Name) IsValid() bool {
	switch n {
	case NameStart, NameDescriptor, NameEvent, NameStop:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (n Name) String() string {
	return string(n)
}

// NewUID returns a fresh UUIDv4 string, the identifier scheme used for all
// event-model documents.
func NewUID() string {
	return uuid.New().String()
}

// Document is the wire envelope: a document name paired with the raw JSON
// body. It is the unit handed to the translation layer and published on
// the event bus.
type Document struct {
	Name Name            `json:"name"`
	Doc  json.RawMessage `json:"doc"`
}

// New creates a Document envelope from a typed document body.
func New(name Name, body any) (Document, error) {
	if !name.IsValid() {
		return Document{}, errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "New",
			fmt.Sprintf("name %q", name))
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Document{}, errors.WrapInvalid(err, "Document", "New", "marshal body")
	}

	return Document{Name: name, Doc: data}, nil
}

// MustNew is like New but panics on error. It is intended for constructing
// documents from types defined in this package, which always marshal.
func MustNew(name Name, body any) Document {
	d, err := New(name, body)
	if err != nil {
		panic(err)
	}
	return d
}

// UID extracts the uid field from the document body without fully decoding
// the typed document.
func (d Document) UID() (string, error) {
	var probe struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(d.Doc, &probe); err != nil {
		return "", errors.WrapInvalid(err, "Document", "UID", "decode body")
	}
	if probe.UID == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidDocument, "Document", "UID", "uid missing")
	}
	return probe.UID, nil
}

// AsStart decodes the body as a RunStart. The document name must be "start".
func (d Document) AsStart() (*RunStart, error) {
	if d.Name != NameStart {
		return nil, errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "AsStart",
			fmt.Sprintf("document is %q", d.Name))
	}
	var doc RunStart
	if err := json.Unmarshal(d.Doc, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Document", "AsStart", "decode body")
	}
	return &doc, nil
}

// AsDescriptor decodes the body as an EventDescriptor.
func (d Document) AsDescriptor() (*EventDescriptor, error) {
	if d.Name != NameDescriptor {
		return nil, errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "AsDescriptor",
			fmt.Sprintf("document is %q", d.Name))
	}
	var doc EventDescriptor
	if err := json.Unmarshal(d.Doc, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Document", "AsDescriptor", "decode body")
	}
	return &doc, nil
}

// AsEvent decodes the body as an Event.
func (d Document) AsEvent() (*Event, error) {
	if d.Name != NameEvent {
		return nil, errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "AsEvent",
			fmt.Sprintf("document is %q", d.Name))
	}
	var doc Event
	if err := json.Unmarshal(d.Doc, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Document", "AsEvent", "decode body")
	}
	return &doc, nil
}

// AsStop decodes the body as a RunStop.
func (d Document) AsStop() (*RunStop, error) {
	if d.Name != NameStop {
		return nil, errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "AsStop",
			fmt.Sprintf("document is %q", d.Name))
	}
	var doc RunStop
	if err := json.Unmarshal(d.Doc, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Document", "AsStop", "decode body")
	}
	return &doc, nil
}

// Validate decodes the body according to the document name and applies the
// type's validation rules.
func (d Document) Validate() error {
	switch d.Name {
	case NameStart:
		doc, err := d.AsStart()
		if err != nil {
			return err
		}
		return doc.Validate()
	case NameDescriptor:
		doc, err := d.AsDescriptor()
		if err != nil {
			return err
		}
		return doc.Validate()
	case NameEvent:
		doc, err := d.AsEvent()
		if err != nil {
			return err
		}
		return doc.Validate()
	case NameStop:
		doc, err := d.AsStop()
		if err != nil {
			return err
		}
		return doc.Validate()
	default:
		return errors.WrapInvalid(errors.ErrUnknownDocumentName, "Document", "Validate",
			fmt.Sprintf("name %q", d.Name))
	}
}

// Body decodes the raw document body into a generic map, the form used by
// DataAddress extraction.
func (d Document) Body() (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(d.Doc, &body); err != nil {
		return nil, errors.WrapInvalid(err, "Document", "Body", "decode body")
	}
	return body, nil
}
