// Package docs registers the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/server/main.go -o docs
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
        "/otp/challenges": {
            "post": {
                "operationId": "issueOtp",
                "summary": "Issue a one-time code",
                "tags": ["OTP"],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Principal-ID", "in": "header"},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.IssueOTPRequest"}}
                ],
                "responses": {
                    "201": {"description": "Challenge issued", "schema": {"$ref": "#/definitions/services.IssueResult"}},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/otp/challenges/{id}/verify": {
            "post": {
                "operationId": "verifyOtp",
                "summary": "Verify a one-time code",
                "tags": ["OTP"],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.VerifyOTPRequest"}}
                ],
                "responses": {
                    "200": {"description": "Verified; carries the access token", "schema": {"$ref": "#/definitions/handlers.VerifyOTPResponse"}},
                    "401": {"description": "Code does not match", "schema": {"$ref": "#/definitions/handlers.VerifyOTPResponse"}},
                    "410": {"description": "Expired, consumed, locked or unknown", "schema": {"$ref": "#/definitions/handlers.VerifyOTPResponse"}},
                    "429": {"description": "Last attempt used", "schema": {"$ref": "#/definitions/handlers.VerifyOTPResponse"}}
                }
            }
        },
        "/sessions": {
            "post": {
                "operationId": "createSession",
                "summary": "Start a questionnaire session",
                "tags": ["Sessions"],
                "parameters": [
                    {"type": "string", "name": "X-Principal-ID", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.CreatedSession"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "operationId": "getSession",
                "summary": "Resume a session",
                "tags": ["Sessions"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "X-Session-Token", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Bad token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Session expired or abandoned", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/steps/{step}": {
            "put": {
                "operationId": "saveProgress",
                "summary": "Save the answers of one step",
                "tags": ["Sessions"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"maximum": 1000, "minimum": 0, "type": "integer", "name": "step", "in": "path", "required": true},
                    {"type": "string", "name": "X-Session-Token", "in": "header", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SaveProgressRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SaveProgressResponse"}},
                    "401": {"description": "Bad token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Session expired", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/complete": {
            "post": {
                "operationId": "completeSession",
                "summary": "Score the questionnaire and close the session",
                "tags": ["Sessions"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "X-Session-Token", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/eligibility.Result"}},
                    "400": {"description": "Answers incomplete or malformed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Session expired", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sessions/{id}/abandon": {
            "post": {
                "operationId": "abandonSession",
                "summary": "Abandon a session",
                "tags": ["Sessions"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "X-Session-Token", "in": "header", "required": true}
                ],
                "responses": {"204": {"description": "Abandoned"}}
            }
        },
        "/sessions/{id}/referral": {
            "post": {
                "operationId": "issueReferralCode",
                "summary": "Issue a GP referral code for a completed session",
                "tags": ["Referrals"],
                "parameters": [
                    {"type": "string", "format": "uuid", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "X-Session-Token", "in": "header", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.IssuedReferral"}},
                    "409": {"description": "Session does not qualify", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/referrals/redeem": {
            "post": {
                "operationId": "redeemReferralCode",
                "summary": "Redeem a referral code",
                "tags": ["Referrals"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RedeemReferralRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Unknown code", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "410": {"description": "Code expired", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/eligibility/score": {
            "post": {
                "operationId": "scoreEligibility",
                "summary": "Score questionnaire answers",
                "tags": ["Eligibility"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/eligibility.Answers"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/eligibility.Result"}},
                    "400": {"description": "Malformed answers", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/profiles/{principal_id}": {
            "get": {
                "operationId": "getProfile",
                "summary": "Read a profile",
                "tags": ["Profiles"],
                "parameters": [
                    {"type": "string", "name": "principal_id", "in": "path", "required": true},
                    {"type": "string", "name": "Authorization", "in": "header", "required": true, "description": "Bearer access token from verifyOtp"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Principal not verified", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Profile not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "operationId": "upsertProfile",
                "summary": "Create or update a profile",
                "tags": ["Profiles"],
                "parameters": [
                    {"type": "string", "name": "principal_id", "in": "path", "required": true},
                    {"type": "string", "name": "Authorization", "in": "header", "required": true, "description": "Bearer access token from verifyOtp"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.UpsertProfileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Validation failed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Principal not verified", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/principals/{id}/export": {
            "get": {
                "operationId": "exportPrincipal",
                "summary": "Export all personal data of a principal",
                "tags": ["Profiles"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "Authorization", "in": "header", "required": true, "description": "Bearer access token from verifyOtp"},
                    {"type": "string", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK; referral codes are masked"},
                    "304": {"description": "Not Modified"},
                    "401": {"description": "Principal not verified", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"},
                "retry_after_seconds": {"type": "integer", "example": 480}
            }
        },
        "handlers.IssueOTPRequest": {
            "type": "object",
            "required": ["contact_type", "contact_value"],
            "properties": {
                "principal_id": {"type": "string"},
                "contact_type": {"type": "string", "enum": ["email", "phone"]},
                "contact_value": {"type": "string"},
                "session_id": {"type": "string"}
            }
        },
        "handlers.VerifyOTPRequest": {
            "type": "object",
            "required": ["code"],
            "properties": {"code": {"type": "string", "example": "123456"}, "session_id": {"type": "string"}}
        },
        "handlers.VerifyOTPResponse": {
            "type": "object",
            "properties": {
                "verified": {"type": "boolean"},
                "principal_id": {"type": "string"},
                "access_token": {"type": "string"},
                "access_expires_at": {"type": "string", "format": "date-time"},
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handlers.CreateSessionRequest": {
            "type": "object",
            "properties": {
                "principal_id": {"type": "string"},
                "initial_data": {"type": "object"},
                "session_type": {"type": "string"}
            }
        },
        "handlers.SaveProgressRequest": {
            "type": "object",
            "required": ["data"],
            "properties": {"data": {"type": "object"}}
        },
        "handlers.SaveProgressResponse": {
            "type": "object",
            "properties": {"success": {"type": "boolean"}}
        },
        "handlers.RedeemReferralRequest": {
            "type": "object",
            "required": ["code"],
            "properties": {"code": {"type": "string", "example": "K7MX2QPA"}}
        },
        "handlers.UpsertProfileRequest": {
            "type": "object",
            "properties": {
                "date_of_birth": {"type": "string", "example": "1970-04-12"},
                "phone": {"type": "string"},
                "street": {"type": "string"},
                "postal_code": {"type": "string"},
                "city": {"type": "string"},
                "canton": {"type": "string"},
                "preferred_language": {"type": "string"}
            }
        },
        "services.IssueResult": {
            "type": "object",
            "properties": {
                "challenge_id": {"type": "string"},
                "masked_contact": {"type": "string"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "services.CreatedSession": {
            "type": "object",
            "properties": {
                "session_id": {"type": "string"},
                "session_token": {"type": "string"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "services.IssuedReferral": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "expires_at": {"type": "string", "format": "date-time"}
            }
        },
        "eligibility.Answers": {
            "type": "object",
            "properties": {
                "age": {"type": "integer"},
                "insured": {"type": "boolean"},
                "symptoms": {"type": "array", "items": {"type": "string"}},
                "family_history": {"type": "boolean"},
                "contraindications": {
                    "type": "object",
                    "properties": {
                        "pregnant": {"type": "boolean"},
                        "pacemaker": {"type": "boolean"},
                        "recent_hospitalization": {"type": "boolean"}
                    }
                }
            }
        },
        "eligibility.Result": {
            "type": "object",
            "properties": {
                "score": {"type": "integer"},
                "pathway": {"type": "string"},
                "estimated_cost": {"type": "integer"},
                "urgency": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Eligibility Backend API",
	Description:      "Contact verification by one-time code, eligibility questionnaire sessions, rule-based pathway scoring, and GP referral codes.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
