package workflow

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"pipeline-proxy/pkg/models"
)

// object is a decoded JSON object that remembers every member as it arrived,
// so fields the engine adds later survive a round trip through the proxy.
type object map[string]json.RawMessage

func decodeObject(data []byte) (object, error) {
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("expected a JSON object, got null")
	}
	return o, nil
}

func (o object) str(key string) string {
	var s string
	if raw, ok := o[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func (o object) time(key string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, o.str(key))
	return t
}

// with returns a copy of o with key set to value.
func (o object) with(key string, value any) (object, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := make(object, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	out[key] = raw
	return out, nil
}

// Pipeline is the engine's representation of a pipeline. Only the fields the
// proxy reads are typed; the rest of the document is passed through untouched.
type Pipeline struct {
	UUID      string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time

	raw object
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Pipeline) UnmarshalJSON(data []byte) error {
	o, err := decodeObject(data)
	if err != nil {
		return err
	}
	*p = Pipeline{
		UUID:      o.str("uuid"),
		Name:      o.str("name"),
		Status:    o.str("status"),
		CreatedAt: o.time("created_at"),
		UpdatedAt: o.time("updated_at"),
		raw:       o,
	}
	return nil
}

// MarshalJSON writes the engine document back with the current UUID.
func (p Pipeline) MarshalJSON() ([]byte, error) {
	return marshalWithUUID(p.raw, p.UUID)
}

// WithUUID returns a copy of p carrying a different identifier.
func (p *Pipeline) WithUUID(uuid string) *Pipeline {
	cp := *p
	cp.UUID = uuid
	return &cp
}

// Run is the engine's representation of a pipeline run.
type Run struct {
	UUID         string
	PipelineUUID string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	raw object
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Run) UnmarshalJSON(data []byte) error {
	o, err := decodeObject(data)
	if err != nil {
		return err
	}
	*r = Run{
		UUID:         o.str("uuid"),
		PipelineUUID: o.str("pipeline_uuid"),
		Status:       o.str("status"),
		CreatedAt:    o.time("created_at"),
		UpdatedAt:    o.time("updated_at"),
		raw:          o,
	}
	return nil
}

// MarshalJSON writes the engine document back with the current UUID. A
// pipeline_uuid member present in the document is rewritten as well.
func (r Run) MarshalJSON() ([]byte, error) {
	o := r.raw
	if _, ok := o["pipeline_uuid"]; ok {
		var err error
		if o, err = o.with("pipeline_uuid", r.PipelineUUID); err != nil {
			return nil, err
		}
	}
	return marshalWithUUID(o, r.UUID)
}

// WithUUIDs returns a copy of r carrying different run and pipeline identifiers.
func (r *Run) WithUUIDs(run, pipeline string) *Run {
	cp := *r
	cp.UUID = run
	cp.PipelineUUID = pipeline
	return &cp
}

func marshalWithUUID(o object, uuid string) ([]byte, error) {
	if o == nil {
		o = object{}
	}
	out, err := o.with("uuid", uuid)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage(out))
}

// PipelineRequest is the body of a pipeline create or update. Members other
// than the typed ones are forwarded as received.
type PipelineRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`

	extra object
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *PipelineRequest) UnmarshalJSON(data []byte) error {
	o, err := decodeObject(data)
	if err != nil {
		return err
	}
	type plain PipelineRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	delete(o, "name")
	delete(o, "description")
	delete(o, "definition")
	*r = PipelineRequest(p)
	r.extra = o
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r PipelineRequest) MarshalJSON() ([]byte, error) {
	type plain PipelineRequest
	return mergeExtra(plain(r), r.extra)
}

// Validate checks the members the proxy depends on.
func (r *PipelineRequest) Validate() map[string]string {
	errs := map[string]string{}
	switch {
	case r.Name == "":
		errs["name"] = "name is required"
	case utf8.RuneCountInString(r.Name) > models.MaxNameLength:
		errs["name"] = fmt.Sprintf("name must be at most %d characters", models.MaxNameLength)
	}
	if len(r.Definition) > 0 && !json.Valid(r.Definition) {
		errs["definition"] = "definition must be valid JSON"
	}
	return errs
}

// RunRequest is the body of a run creation.
type RunRequest struct {
	Inputs     json.RawMessage `json:"inputs,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`

	extra object
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RunRequest) UnmarshalJSON(data []byte) error {
	o, err := decodeObject(data)
	if err != nil {
		return err
	}
	type plain RunRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	delete(o, "inputs")
	delete(o, "parameters")
	*r = RunRequest(p)
	r.extra = o
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r RunRequest) MarshalJSON() ([]byte, error) {
	type plain RunRequest
	return mergeExtra(plain(r), r.extra)
}

func mergeExtra(typed any, extra object) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	o, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := o[k]; !ok {
			o[k] = v
		}
	}
	return json.Marshal(map[string]json.RawMessage(o))
}

type searchRequest struct {
	UUIDs []string `json:"uuids"`
}
