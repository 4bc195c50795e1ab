// Package swagger holds the OpenAPI document registered with swag. It matches
// the godoc annotations on the endpoint handlers; regenerate with go generate
// in the docs package.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/jackzampolin/castwright"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}
                }
            }
        },
        "/ready": {
            "get": {
                "description": "Reports ready only when the ledger answers a ping",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.HealthResponse"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["health"],
                "summary": "Prometheus metrics",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "string"}}
                }
            }
        },
        "/api/settings": {
            "get": {
                "description": "Effective configuration with defaults. Literal API keys are redacted.",
                "produces": ["application/json"],
                "tags": ["settings"],
                "summary": "List settings",
                "parameters": [
                    {"type": "string", "description": "Only keys with this prefix", "name": "prefix", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.SettingsResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/settings/{key}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["settings"],
                "summary": "Get a setting",
                "parameters": [
                    {"type": "string", "description": "Setting key, e.g. pipeline.chunk_size", "name": "key", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.Setting"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics": {
            "post": {
                "description": "Validate a topic request and record it at ACCEPTED",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Start a topic",
                "parameters": [
                    {"description": "Topic request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/podcast.TopicRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/podcast.StartResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}": {
            "get": {
                "description": "Full ledger record for a topic, including every synthesis job",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Get topic status",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.TopicStatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/content": {
            "post": {
                "description": "Generate the intro and every chapter, resuming from the last persisted unit. A provider failure is reported with ok=false and fails the topic.",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Generate content",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/content.Result"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/units": {
            "get": {
                "description": "Persisted content units, intro first then chapters in order",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "List content units",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.UnitsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/units/{unit_key}/dispatch": {
            "post": {
                "description": "Chunk the unit's text and submit one synthesis job per chunk. A unit that was already dispatched returns its existing jobs.",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Dispatch synthesis for a unit",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true},
                    {"type": "string", "description": "intro or chapter_N", "name": "unit_key", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/synthesis.DispatchResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/poll": {
            "post": {
                "description": "Query every non-terminal job once and report whether the topic converged",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Poll synthesis jobs",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/synthesis.PollResult"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/units/{unit_key}/stitch": {
            "post": {
                "description": "Join a unit's audio parts into one file. The last unit to finish moves the topic to COMPLETED.",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Stitch a unit's audio",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true},
                    {"type": "string", "description": "intro or chapter_N", "name": "unit_key", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/endpoints.StitchResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        },
        "/api/topics/{topic_id}/run": {
            "post": {
                "description": "Start a background run: generate content, dispatch every unit, poll until converged, stitch every unit. One run per topic at a time.",
                "produces": ["application/json"],
                "tags": ["topics"],
                "summary": "Run a topic end to end",
                "parameters": [
                    {"type": "string", "description": "Topic ID", "name": "topic_id", "in": "path", "required": true}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/endpoints.RunTopicResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/endpoints.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "content.Result": {
            "type": "object",
            "properties": {
                "failed_unit": {"type": "string"},
                "ok": {"type": "boolean"},
                "reason": {"type": "string"},
                "topic_id": {"type": "string"},
                "units": {"type": "array", "items": {"type": "string"}}
            }
        },
        "endpoints.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        },
        "endpoints.HealthResponse": {
            "type": "object",
            "properties": {
                "ledger": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "endpoints.RunTopicResponse": {
            "type": "object",
            "properties": {
                "stage": {"type": "string"},
                "status": {"type": "string"},
                "topic_id": {"type": "string"}
            }
        },
        "endpoints.Setting": {
            "type": "object",
            "properties": {
                "default": {},
                "description": {"type": "string"},
                "key": {"type": "string"},
                "value": {}
            }
        },
        "endpoints.SettingsResponse": {
            "type": "object",
            "properties": {
                "file": {"type": "string"},
                "home": {"type": "string"},
                "settings": {"type": "array", "items": {"$ref": "#/definitions/endpoints.Setting"}}
            }
        },
        "endpoints.StitchResponse": {
            "type": "object",
            "properties": {
                "completed": {"type": "boolean"},
                "output_key": {"type": "string"},
                "parts": {"type": "integer"},
                "reason": {"type": "string"},
                "status": {"type": "string", "enum": ["DONE", "SKIPPED", "FAILED"]},
                "topic_id": {"type": "string"},
                "unit_key": {"type": "string"}
            }
        },
        "endpoints.TopicStatusResponse": {
            "type": "object",
            "properties": {
                "audio_complete": {"type": "object", "additionalProperties": {"type": "string"}},
                "chapters_complete": {"type": "object", "additionalProperties": {"type": "boolean"}},
                "created_at": {"type": "string"},
                "failure_reason": {"type": "string"},
                "intro_complete": {"type": "boolean"},
                "running": {"type": "boolean"},
                "status": {"type": "string"},
                "synthesis_jobs": {"type": "array", "items": {"$ref": "#/definitions/pipeline.SynthesisJob"}},
                "topic": {"$ref": "#/definitions/pipeline.Topic"},
                "topic_id": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "endpoints.UnitsResponse": {
            "type": "object",
            "properties": {
                "topic_id": {"type": "string"},
                "units": {"type": "array", "items": {"type": "string"}}
            }
        },
        "pipeline.SynthesisJob": {
            "type": "object",
            "properties": {
                "chunk_index": {"type": "integer"},
                "job_id": {"type": "string"},
                "output_key": {"type": "string"},
                "status": {"type": "string", "enum": ["IN_PROGRESS", "COMPLETED", "FAILED", "ERROR"]},
                "submitted_at": {"type": "string"},
                "unit_key": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "pipeline.Topic": {
            "type": "object",
            "properties": {
                "category": {"type": "string"},
                "chapters": {"type": "integer"},
                "created_at": {"type": "string"},
                "description": {"type": "string"},
                "difficulty": {"type": "string"},
                "request_id": {"type": "string"},
                "title": {"type": "string"},
                "topic_id": {"type": "string"}
            }
        },
        "podcast.StartResult": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "status": {"type": "string"},
                "topic_id": {"type": "string"}
            }
        },
        "podcast.TopicRequest": {
            "type": "object",
            "required": ["category", "title", "description", "difficulty", "chapters"],
            "properties": {
                "category": {"type": "string"},
                "chapters": {"type": "integer", "minimum": 1},
                "description": {"type": "string"},
                "difficulty": {"type": "string", "enum": ["BEGINNER", "INTERMEDIATE", "ADVANCED"]},
                "title": {"type": "string"}
            }
        },
        "synthesis.DispatchResult": {
            "type": "object",
            "properties": {
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/pipeline.SynthesisJob"}},
                "ok": {"type": "boolean"},
                "reason": {"type": "string"},
                "skipped": {"type": "boolean"},
                "topic_id": {"type": "string"},
                "unit_key": {"type": "string"}
            }
        },
        "synthesis.PollResult": {
            "type": "object",
            "properties": {
                "converged": {"type": "boolean"},
                "errors": {"type": "object", "additionalProperties": {"type": "string"}},
                "failed": {"type": "array", "items": {"type": "string"}},
                "jobs": {"type": "array", "items": {"$ref": "#/definitions/pipeline.SynthesisJob"}},
                "pending": {"type": "integer"},
                "topic_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "castwright API",
	Description:      "Podcast pipeline API: accept topics, generate chapters, synthesize and stitch audio.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
