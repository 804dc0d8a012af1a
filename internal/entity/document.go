package entity

import (
	"bytes"
	"encoding/json"
	"errors"
)

type (
	Link struct {
		Href string `json:"href"`
	}

	Links struct {
		Self Link `json:"self"`
	}

	// Document is a resource fetched from an upstream service. The orchestrator
	// does not interpret it beyond its self link, so the original JSON is kept
	// as-is and written back out unchanged.
	Document struct {
		Links Links
		raw   json.RawMessage
	}

	Address struct {
		Document
	}

	Customer struct {
		Document
	}

	Card struct {
		Document
	}
)

var errNotAnObject = errors.New("document is not a JSON object")

func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotAnObject
	}

	var header struct {
		Links Links `json:"_links"`
	}
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return err
	}

	d.Links = header.Links
	d.raw = append(d.raw[:0], trimmed...)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("{}"), nil
	}
	return d.raw, nil
}

func (d Document) SelfHref() string {
	return d.Links.Self.Href
}

func (d Document) IsZero() bool {
	return len(d.raw) == 0
}
