// Package docs registers the service's OpenAPI description with the swag
// runtime so the bundled swagger UI can render it.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/jobs": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create a dubbing or subtitle job",
                "parameters": [
                    {"type": "file", "name": "file", "in": "formData", "required": true, "description": "Audio or video file"},
                    {"type": "string", "name": "source_lang", "in": "formData", "description": "Source language code or auto"},
                    {"type": "string", "name": "target_lang", "in": "formData", "required": true, "description": "Target language code"},
                    {"type": "string", "name": "mode", "in": "formData", "description": "dubbing or subtitle"},
                    {"type": "string", "name": "sync_mode", "in": "formData", "description": "optimize, speed_audio, or stretch"},
                    {"type": "string", "name": "stt_engine", "in": "formData"},
                    {"type": "string", "name": "translation_engine", "in": "formData"},
                    {"type": "string", "name": "tts_engine", "in": "formData"},
                    {"type": "boolean", "name": "clone_voice", "in": "formData"},
                    {"type": "boolean", "name": "verify_translation", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "Job created"},
                    "400": {"description": "Validation failure"},
                    "413": {"description": "File too large"},
                    "429": {"description": "Concurrency or rate cap"}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get a job's status, steps, and log tail",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Job"}, "404": {"description": "Not found"}}
            }
        },
        "/jobs/{id}/cancel": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Request cancellation of a running or queued job",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Cancellation requested"}, "400": {"description": "Job already terminal"}, "404": {"description": "Not found"}}
            }
        },
        "/jobs/{id}/download": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/octet-stream"],
                "tags": ["jobs"],
                "summary": "Download the finished dubbed or subtitled file",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Artifact"}, "400": {"description": "No artifact yet"}, "404": {"description": "Not found"}}
            }
        },
        "/jobs/{id}/srt": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["text/srt"],
                "tags": ["jobs"],
                "summary": "Download the SRT caption file of a subtitle job",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "Captions"}, "400": {"description": "Not a subtitle job"}, "404": {"description": "Not found"}}
            }
        },
        "/system/status": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "System snapshot: job counts, memory, credentials, provider usage",
                "responses": {"200": {"description": "Snapshot"}}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "VideoVoice API",
	Description:      "Dubbing and subtitle job orchestration service",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
