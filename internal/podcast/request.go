package podcast

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/castwright/internal/pipeline"
)

//go:embed topic_request.schema.json
var topicRequestSchema []byte

// Categories accepted by StartTopic.
var Categories = []string{
	"Technical & Programming",
	"Mathematics and Algorithms",
	"Science & Engineering",
	"History & Social Studies",
	"Creative Writing & Literature",
	"Health & Medicine",
}

// TopicRequest is the body of POST /api/topics.
type TopicRequest struct {
	Category    string              `json:"category"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Difficulty  pipeline.Difficulty `json:"difficulty"`
	Chapters    int                 `json:"chapters"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("topic_request.schema.json", bytes.NewReader(topicRequestSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load topic request schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("topic_request.schema.json")
	})
	return schema, schemaErr
}

// DecodeTopicRequest validates raw JSON against the topic request schema and
// decodes it.
func DecodeTopicRequest(raw []byte) (*TopicRequest, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &pipeline.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := s.Validate(doc); err != nil {
		return nil, schemaError(err)
	}
	var req TopicRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &pipeline.ValidationError{Field: "body", Reason: err.Error()}
	}
	return &req, nil
}

// Validate checks an already decoded request against the same schema.
func (r TopicRequest) Validate() error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = DecodeTopicRequest(raw)
	return err
}

// schemaError reduces a schema failure to its first leaf cause.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &pipeline.ValidationError{Field: "body", Reason: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		field = "body"
	}
	return &pipeline.ValidationError{Field: field, Reason: ve.Message}
}
