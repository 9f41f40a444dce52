// Package listing defines the canonical job listing record and its staged
// construction from extracted page data.
package listing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/careers-ingest/internal/identity"
)

// Stream field names in publication order.
const (
	FieldJobID      = "jobId"
	FieldTitle      = "title"
	FieldDatePosted = "datePosted"
	FieldCompany    = "company"
	FieldContent    = "content"
)

// ErrNotPublishable is returned when a draft fails the publishable check.
var ErrNotPublishable = errors.New("listing not publishable")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Record is a fully normalized listing ready for identity and publication.
type Record struct {
	ExternalID string
	Title      string `validate:"required"`
	DatePosted string `validate:"omitempty,datetime=2006-01-02"`
	Company    string `validate:"required"`
	Content    string `validate:"required"`
}

// Identity returns the content-addressed identity of the record.
func (r Record) Identity() string {
	return identity.Compute(r.Title, r.DatePosted, r.Company)
}

// Fields returns the stream entry fields in their fixed order.
func (r Record) Fields() Fields {
	return Fields{
		{Name: FieldJobID, Value: r.ExternalID},
		{Name: FieldTitle, Value: r.Title},
		{Name: FieldDatePosted, Value: r.DatePosted},
		{Name: FieldCompany, Value: r.Company},
		{Name: FieldContent, Value: r.Content},
	}
}

// Field is one name/value pair of a stream entry.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered set of stream entry fields.
type Fields []Field

// Map returns the fields keyed by name.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, field := range f {
		out[field.Name] = field.Value
	}
	return out
}

// Flatten returns name, value, name, value... as expected by XADD-style APIs.
func (f Fields) Flatten() []any {
	out := make([]any, 0, len(f)*2)
	for _, field := range f {
		out = append(out, field.Name, field.Value)
	}
	return out
}

// MarshalJSON encodes the fields as a JSON object preserving field order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(field.Name)
		if err != nil {
			return nil, fmt.Errorf("marshal field name: %w", err)
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", field.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Draft accumulates listing data stage by stage. Each stage returns a new
// Draft; Record is the only place the publishable invariant is checked.
type Draft struct {
	externalID    string
	title         string
	company       string
	content       string
	datePosted    string
	dateAttempted bool
}

// NewDraft starts a draft for the given source company.
func NewDraft(company string) Draft {
	return Draft{company: company}
}

// WithSummary sets the metadata read from the result list.
func (d Draft) WithSummary(externalID, title string) Draft {
	d.externalID = externalID
	d.title = title
	return d
}

// WithContent sets the normalized body text.
func (d Draft) WithContent(content string) Draft {
	d.content = content
	return d
}

// WithDate records the outcome of date normalization; an empty date marks
// a failed or missing parse.
func (d Draft) WithDate(datePosted string) Draft {
	d.datePosted = datePosted
	d.dateAttempted = true
	return d
}

// Record validates the draft and returns the immutable record.
func (d Draft) Record() (Record, error) {
	if !d.dateAttempted {
		return Record{}, fmt.Errorf("%w: date not attempted", ErrNotPublishable)
	}
	rec := Record{
		ExternalID: d.externalID,
		Title:      d.title,
		DatePosted: d.datePosted,
		Company:    d.company,
		Content:    d.content,
	}
	if err := validate.Struct(rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrNotPublishable, err)
	}
	return rec, nil
}
