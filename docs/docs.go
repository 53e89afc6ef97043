// docs/docs.go
// Package docs registers the Swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/discovery/ports": {
            "get": {
                "description": "List the serial ports visible on this host, enriched with USB metadata where available",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "List serial ports",
                "responses": {
                    "200": {"description": "Ports listed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Enumeration failed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/devices": {
            "get": {
                "description": "Probe every enumerable port (or the listed ones) concurrently and return one row per port in request order",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Discover devices",
                "parameters": [
                    {"type": "integer", "default": 9600, "description": "Baud rate", "name": "baudrate", "in": "query"},
                    {"type": "string", "description": "Per-port timeout, a duration (2s) or seconds (1.5)", "name": "timeout", "in": "query"},
                    {"type": "string", "description": "Comma separated port names; omit to probe every port", "name": "ports", "in": "query"},
                    {"type": "integer", "description": "Data bits", "name": "data_bits", "in": "query"},
                    {"type": "integer", "description": "Stop bits", "name": "stop_bits", "in": "query"},
                    {"enum": ["none", "odd", "even", "mark", "space"], "type": "string", "description": "Parity", "name": "parity", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Discovery completed", "schema": {"$ref": "#/definitions/model.DiscoveryResult"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Discovery failed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/devices/id": {
            "get": {
                "description": "Request the identity of the node on one port. Timeouts and transport failures are reported as errors.",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Read device identity",
                "parameters": [
                    {"type": "string", "description": "Port name", "name": "port", "in": "query", "required": true},
                    {"type": "integer", "default": 9600, "description": "Baud rate", "name": "baudrate", "in": "query"},
                    {"type": "string", "description": "Timeout, a duration (2s) or seconds (1.5)", "name": "timeout", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Device identified", "schema": {"$ref": "#/definitions/model.DeviceID"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "Transport error", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "504": {"description": "Device did not answer", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/runs": {
            "get": {
                "description": "List recorded discovery runs, newest first",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "List discovery runs",
                "parameters": [
                    {"enum": ["available_devices", "read_device_id"], "type": "string", "description": "Operation", "name": "operation", "in": "query"},
                    {"type": "string", "description": "Only runs that probed this port", "name": "port", "in": "query"},
                    {"type": "string", "description": "RFC 3339 lower bound on start time", "name": "since", "in": "query"},
                    {"type": "integer", "description": "Maximum runs returned", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Runs listed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid parameters", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/runs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Get discovery run",
                "parameters": [
                    {"type": "string", "description": "Run ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Run found", "schema": {"$ref": "#/definitions/model.DiscoveryResult"}},
                    "400": {"description": "Invalid run ID", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Run not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "model.Port": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "description": {"type": "string"},
                "is_usb": {"type": "boolean"},
                "vid": {"type": "string"},
                "pid": {"type": "string"},
                "serial_number": {"type": "string"},
                "product": {"type": "string"},
                "manufacturer": {"type": "string"}
            }
        },
        "model.DeviceRow": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "description": {"type": "string"},
                "is_usb": {"type": "boolean"},
                "vid": {"type": "string"},
                "pid": {"type": "string"},
                "baudrate": {"type": "integer"},
                "device_name": {"type": "string"},
                "device_version": {"type": "string"},
                "status": {"type": "string", "enum": ["IDENTIFIED", "TIMED_OUT", "TRANSPORT_ERROR"]},
                "error": {"type": "string"},
                "duration": {"type": "integer"}
            }
        },
        "model.DiscoveryResult": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "operation": {"type": "string"},
                "baudrate": {"type": "integer"},
                "timeout": {"type": "integer"},
                "started_at": {"type": "string"},
                "finished_at": {"type": "string"},
                "devices": {"type": "array", "items": {"$ref": "#/definitions/model.DeviceRow"}}
            }
        },
        "model.DeviceID": {
            "type": "object",
            "properties": {
                "port": {"type": "string"},
                "baudrate": {"type": "integer"},
                "timeout": {"type": "integer"},
                "device_name": {"type": "string"},
                "device_version": {"type": "string"}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8085",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Node Service API",
	Description:      "Serial port discovery and node identification",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
