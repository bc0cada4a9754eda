package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is an opaque, versioned result payload. The pipeline stores,
// retrieves and sizes it but never interprets Body.
type Document struct {
	Version   int             `json:"version"`
	MediaType string          `json:"mediaType"`
	Body      json.RawMessage `json:"body"`
}

const DocumentVersion = 1

// NewDocument wraps raw JSON into a Document, rejecting invalid JSON.
func NewDocument(body []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("document body is not valid JSON")
	}
	return &Document{
		Version:   DocumentVersion,
		MediaType: "application/json",
		Body:      json.RawMessage(append([]byte(nil), trimmed...)),
	}, nil
}

// Size returns the serialized size of the body in bytes.
func (d *Document) Size() int {
	if d == nil {
		return 0
	}
	return len(d.Body)
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Body = append(json.RawMessage(nil), d.Body...)
	return &c
}
