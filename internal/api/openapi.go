package api

import (
	"slices"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the gateway routes.
func buildOpenAPIDoc(apis []string) map[string]any {
	names := slices.Clone(apis)
	slices.Sort(names)

	apiParam := map[string]any{
		"name":     "api",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string", "enum": names},
	}
	methodParam := map[string]any{
		"name":     "method",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}
	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "keybridge gateway",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/call/{api}/{method}": map[string]any{
				"post": map[string]any{
					"operationId": "call",
					"summary":     "Run one API method through the keybase binary",
					"parameters":  []any{apiParam, methodParam},
					"requestBody": map[string]any{
						"required": false,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"options":    map[string]any{"type": "object"},
										"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
									},
								},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Call result"},
						"400": map[string]any{"description": "Bad request"},
						"403": map[string]any{"description": "Insufficient scope"},
						"422": map[string]any{"description": "The API reported an error"},
						"502": map[string]any{"description": "The binary failed"},
						"503": map[string]any{"description": "Client not initialized"},
					},
					"security": bearer,
				},
			},
			"/calls": map[string]any{
				"get": map[string]any{
					"operationId": "listCalls",
					"summary":     "Recent journaled calls, newest first",
					"responses":   map[string]any{"200": map[string]any{"description": "Call history"}},
					"security":    bearer,
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-sent call and listen events",
					"parameters": []any{
						map[string]any{"name": "type", "in": "query", "description": "Comma-separated event types; a trailing '.' matches a prefix", "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "api", "in": "query", "description": "Only events for this API", "schema": map[string]any{"type": "string"}},
					},
					"responses":   map[string]any{"200": map[string]any{"description": "Event stream"}},
					"security":    bearer,
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
