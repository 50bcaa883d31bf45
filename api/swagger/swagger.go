package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Horario API",
        "description": "Automatic timetable generation for academic periods",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Horarios", "description": "Timetable generation and assignment listing"},
        {"name": "Generation Runs", "description": "Asynchronous generation runs"}
    ],
    "paths": {
        "/horarios/generar": {
            "post": {
                "tags": ["Horarios"],
                "summary": "Generate the timetable of a period",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "Dry run or partial result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Timetable persisted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Period not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Infeasible timetable or generation already running", "schema": {"$ref": "#/definitions/ConflictBody"}},
                    "422": {"description": "Catalog data integrity failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Persistence failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/horarios/generar/async": {
            "post": {
                "tags": ["Generation Runs"],
                "summary": "Queue a generation run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GenerateScheduleRequest"}}
                ],
                "responses": {
                    "202": {"description": "Run queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/horarios/runs/{id}": {
            "get": {
                "tags": ["Generation Runs"],
                "summary": "Get a generation run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Run not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Generation Runs"],
                "summary": "Cancel a generation run",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "202": {"description": "Cancellation accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Run not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Run already finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/horarios": {
            "get": {
                "tags": ["Horarios"],
                "summary": "List persisted assignments",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "periodId", "in": "query", "required": true, "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "groupId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GenerateScheduleRequest": {
            "type": "object",
            "required": ["periodId"],
            "properties": {
                "periodId": {"type": "string"},
                "replace": {"type": "boolean"},
                "allowPartial": {"type": "boolean"},
                "dryRun": {"type": "boolean"},
                "options": {"type": "object"}
            }
        },
        "Conflict": {
            "type": "object",
            "properties": {
                "unit": {"type": "string"},
                "group_code": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "reason": {"type": "string"},
                "resource": {"type": "string"},
                "resource_id": {"type": "string"},
                "classroom_id": {"type": "string"},
                "time_block": {"type": "object"},
                "competing": {"type": "object"},
                "required": {"type": "integer"},
                "placed": {"type": "integer"},
                "message": {"type": "string"}
            }
        },
        "ConflictBody": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "conflictos": {"type": "array", "items": {"$ref": "#/definitions/Conflict"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
