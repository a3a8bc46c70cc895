package provenance

import (
	"github.com/CJ-Wright/SHED/document"
	"github.com/CJ-Wright/SHED/errors"
)

// Record captures the provenance of one emitted document. Order is the
// document's position in the store's insertion sequence, assigned by the
// store on Put.
type Record struct {
	DocumentUID string            `json:"document_uid"`
	Name        document.Name     `json:"name"`
	Node        string            `json:"node"`
	RunStart    string            `json:"run_start,omitempty"`
	ParentUIDs  map[string]string `json:"parent_uids,omitempty"`
	Graph       []string          `json:"graph,omitempty"`
	SeqNum      int               `json:"seq_num,omitempty"`
	Time        int64             `json:"time"`
	Order       uint64            `json:"order"`
}

// Validate checks the record's required fields.
func (r *Record) Validate() error {
	if r.DocumentUID == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "Record", "Validate",
			"document uid missing")
	}
	if !r.Name.IsValid() {
		return errors.WrapInvalid(errors.ErrUnknownDocumentName, "Record", "Validate",
			"document name "+string(r.Name))
	}
	if r.Node == "" {
		return errors.WrapInvalid(errors.ErrInvalidDocument, "Record", "Validate",
			"emitting node missing")
	}
	return nil
}
