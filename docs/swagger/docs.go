// Package swagger holds the OpenAPI document of the pump line API.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/cycles": {
            "get": {
                "description": "List the run history of the line, newest first",
                "produces": ["application/json"],
                "tags": ["cycles"],
                "summary": "List finished cycles",
                "parameters": [
                    {"type": "string", "description": "Comma separated outcomes (completed, failed, cancelled)", "name": "outcome", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Maximum number of results", "name": "limit", "in": "query"},
                    {"type": "integer", "default": 0, "description": "Offset for pagination", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Run history", "schema": {"$ref": "#/definitions/models.CycleListResponse"}},
                    "400": {"description": "Invalid query", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "500": {"description": "Internal server error", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Start a cycle run on the line. The run continues after the response is written.",
                "produces": ["application/json"],
                "tags": ["cycles"],
                "summary": "Start a pump cycle",
                "responses": {
                    "202": {"description": "Cycle started", "schema": {"$ref": "#/definitions/models.CycleStartResponse"}},
                    "409": {"description": "A cycle is already running", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "503": {"description": "Line is shutting down", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/cycles/current": {
            "get": {
                "description": "Get the stage, outputs and stage transitions of the cycle in flight",
                "produces": ["application/json"],
                "tags": ["cycles"],
                "summary": "Get the running cycle",
                "responses": {
                    "200": {"description": "Running cycle", "schema": {"$ref": "#/definitions/line.RunStatus"}},
                    "404": {"description": "No cycle is running", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/cycles/current/cancel": {
            "post": {
                "description": "Cancel the cycle in flight. Outputs are shut off before the run is recorded.",
                "produces": ["application/json"],
                "tags": ["cycles"],
                "summary": "Cancel the running cycle",
                "responses": {
                    "202": {"description": "Cancellation requested", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "No cycle is running", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/cycles/{id}": {
            "get": {
                "description": "Get a finished run with its stage transitions and the configuration it used",
                "produces": ["application/json"],
                "tags": ["cycles"],
                "summary": "Get a finished cycle",
                "parameters": [
                    {"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Run", "schema": {"$ref": "#/definitions/models.CycleDetail"}},
                    "404": {"description": "Run not found", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/signals": {
            "get": {
                "description": "Get the current value of every input and output of the line",
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Get signal values",
                "responses": {
                    "200": {"description": "Signal values", "schema": {"$ref": "#/definitions/line.Snapshot"}}
                }
            }
        },
        "/api/v1/signals/inputs/{name}": {
            "put": {
                "description": "Set an input as an operator panel or external plant would, e.g. the emergency stop button",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["signals"],
                "summary": "Write an input signal",
                "parameters": [
                    {
                        "enum": ["valve1Closed", "valve2Closed", "valveOpened", "primeComplete", "tankIsFull", "lowPressure", "emergencyStop"],
                        "type": "string", "description": "Input name", "name": "name", "in": "path", "required": true
                    },
                    {"description": "New value", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.SignalWriteRequest"}}
                ],
                "responses": {
                    "200": {"description": "Input written", "schema": {"$ref": "#/definitions/models.SignalWriteResponse"}},
                    "400": {"description": "Invalid request body", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "404": {"description": "Unknown input", "schema": {"$ref": "#/definitions/response.ErrorResponse"}},
                    "429": {"description": "Rate limit exceeded", "schema": {"$ref": "#/definitions/response.ErrorResponse"}}
                }
            }
        },
        "/api/v1/config/cycle": {
            "get": {
                "description": "Get the timeouts and delays the next run will use. A zero timeout waits indefinitely.",
                "produces": ["application/json"],
                "tags": ["config"],
                "summary": "Get the cycle configuration",
                "responses": {
                    "200": {"description": "Cycle configuration", "schema": {"$ref": "#/definitions/models.CycleConfig"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/ready": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "boolean"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "boolean"}}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Line status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "response.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"$ref": "#/definitions/response.ErrorDetail"}}
        },
        "response.ErrorDetail": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true},
                "request_id": {"type": "string"}
            }
        },
        "models.CycleConfig": {
            "type": "object",
            "properties": {
                "close_valves_timeout_ms": {"type": "integer", "example": 3200},
                "prime_timeout_ms": {"type": "integer", "example": 0},
                "pump_timeout_ms": {"type": "integer", "example": 0},
                "pressure_monitor_delay_ms": {"type": "integer", "example": 30000},
                "post_pump_valve_delay_ms": {"type": "integer", "example": 60000},
                "prime_delay_ms": {"type": "integer", "example": 5000}
            }
        },
        "models.CycleStartResponse": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "line": {"type": "string", "example": "line-1"},
                "stage": {"type": "string", "example": "ClosingValves1"},
                "started_at": {"type": "string"},
                "config": {"$ref": "#/definitions/models.CycleConfig"}
            }
        },
        "models.CycleSummary": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "outcome": {"type": "string", "example": "completed"},
                "last_stage": {"type": "string", "example": "ClosingValves2"},
                "error": {"type": "string", "example": "Priming timeout reached"},
                "emergency_stop": {"type": "boolean"},
                "started_at": {"type": "string"},
                "ended_at": {"type": "string"},
                "duration_ms": {"type": "integer"}
            }
        },
        "models.CycleListResponse": {
            "type": "object",
            "properties": {
                "line": {"type": "string"},
                "runs": {"type": "array", "items": {"$ref": "#/definitions/models.CycleSummary"}},
                "total": {"type": "integer"},
                "limit": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "models.StageEntry": {
            "type": "object",
            "properties": {
                "stage": {"type": "string", "example": "Priming"},
                "entered_at": {"type": "string"},
                "exited_at": {"type": "string"},
                "duration_ms": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "models.CycleDetail": {
            "type": "object",
            "allOf": [{"$ref": "#/definitions/models.CycleSummary"}],
            "properties": {
                "line": {"type": "string"},
                "stages": {"type": "array", "items": {"$ref": "#/definitions/models.StageEntry"}},
                "config": {"$ref": "#/definitions/models.CycleConfig"}
            }
        },
        "models.SignalWriteRequest": {
            "type": "object",
            "required": ["value"],
            "properties": {"value": {"type": "boolean", "example": true}}
        },
        "models.SignalWriteResponse": {
            "type": "object",
            "properties": {
                "line": {"type": "string", "example": "line-1"},
                "signal": {"type": "string", "example": "emergencyStop"},
                "value": {"type": "boolean", "example": true}
            }
        },
        "line.Snapshot": {
            "type": "object",
            "properties": {
                "inputs": {"type": "object", "additionalProperties": {"type": "boolean"}},
                "outputs": {"type": "object", "additionalProperties": {"type": "boolean"}},
                "valves_closed": {"type": "boolean"},
                "timestamp": {"type": "string"}
            }
        },
        "line.RunStatus": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "line": {"type": "string"},
                "stage": {"type": "string"},
                "started_at": {"type": "string"},
                "elapsed": {"type": "string"},
                "outputs": {"type": "object", "additionalProperties": {"type": "boolean"}},
                "stages": {"type": "array", "items": {"type": "object"}},
                "config": {"type": "object"}
            }
        },
        "handlers.StatusResponse": {
            "type": "object",
            "properties": {
                "line": {"type": "string"},
                "healthy": {"type": "boolean"},
                "ready": {"type": "boolean"},
                "version": {"type": "string"},
                "uptime": {"type": "string"},
                "active_run": {"$ref": "#/definitions/line.RunStatus"},
                "last_run": {"type": "object"},
                "signals": {"$ref": "#/definitions/line.Snapshot"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Pump Cycle API",
	Description:      "Start, monitor and cancel pump cycles and operate line signals.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
