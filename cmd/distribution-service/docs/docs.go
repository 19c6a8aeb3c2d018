// Package docs registers the OpenAPI description served under /swagger.
// It follows the layout `swag init` produces from the handler annotations,
// so regenerating it with swag replaces this file in place.
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
        "/distribute": {
            "post": {
                "description": "Runs one distribution attempt. Business outcomes return 200 with success=false.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["distribution"],
                "summary": "Distribute a lead",
                "parameters": [
                    {
                        "description": "Lead context",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/distribution.Request"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/distribution.Result"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/workspaces/{workspace_id}/redistribute": {
            "post": {
                "produces": ["application/json"],
                "tags": ["distribution"],
                "summary": "Redistribute unassigned leads",
                "parameters": [
                    {"type": "string", "description": "Workspace ID", "name": "workspace_id", "in": "path", "required": true},
                    {"type": "integer", "description": "Maximum leads to process", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/distribution.BatchResult"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/workspaces/{workspace_id}/distribution-logs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["distribution"],
                "summary": "List recent distribution logs",
                "parameters": [
                    {"type": "string", "description": "Workspace ID", "name": "workspace_id", "in": "path", "required": true},
                    {"type": "integer", "description": "Maximum rows", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/distribution.Log"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "distribution.Request": {
            "type": "object",
            "required": ["lead_id", "workspace_id"],
            "properties": {
                "lead_id": {"type": "string"},
                "workspace_id": {"type": "string"},
                "pipeline_id": {"type": "string"},
                "source": {"type": "string"},
                "tags": {"type": "array", "items": {"type": "string"}}
            }
        },
        "distribution.Result": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "assigned_to": {"type": "string"},
                "rule": {"type": "string"},
                "rule_id": {"type": "string"},
                "mode": {"type": "string", "enum": ["round_robin", "percentage", "least_loaded", "fixed", "weighted_random"]},
                "reason": {"type": "string"}
            }
        },
        "distribution.LeadFailure": {
            "type": "object",
            "properties": {
                "lead_id": {"type": "string"},
                "error": {"type": "string"}
            }
        },
        "distribution.BatchResult": {
            "type": "object",
            "properties": {
                "distributed": {"type": "integer"},
                "attempted": {"type": "integer"},
                "outcomes": {"type": "object", "additionalProperties": {"type": "integer"}},
                "failures": {"type": "array", "items": {"$ref": "#/definitions/distribution.LeadFailure"}}
            }
        },
        "distribution.Log": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "workspace_id": {"type": "string"},
                "lead_id": {"type": "string"},
                "rule_id": {"type": "string"},
                "assigned_user_id": {"type": "string"},
                "source": {"type": "string"},
                "pipeline_id": {"type": "string"},
                "distribution_mode": {"type": "string"},
                "reason": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Lead Distribution Service API",
	Description:      "Assigns incoming leads to workspace members according to distribution rules",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
