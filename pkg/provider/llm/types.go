package llm

import "errors"

// ErrEmptyResponse is wrapped by Complete and CompleteStructured when the
// backend returns a response with no choices.
var ErrEmptyResponse = errors.New("llm: empty response from backend")

// ErrNoJSON is wrapped by CompleteStructured when the model's reply contains
// no parseable JSON object.
var ErrNoJSON = errors.New("llm: no JSON object in model reply")

// ErrSchemaRequired is returned by CompleteStructured when the request carries
// no schema.
var ErrSchemaRequired = errors.New("llm: structured request needs a schema")
