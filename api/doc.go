// Package api documents the warm transfer HTTP API.
//
// # API Overview
//
// The service exposes a JSON API for:
//   - Initiating, completing and cancelling warm transfers
//   - Listing active transfers and transfer statistics
//   - Querying available agents
//   - Room creation, admission tokens and per-room transcripts
//   - Ad-hoc call summaries
//   - Optional telephony dial-out
//   - Health monitoring and metrics
//
// Transfer events are pushed over a WebSocket per room (/ws/{room}) and can be
// polled from the same per-room log (/api/events/{room}?since=N).
//
// # Authentication
//
// When server.api_keys is configured, API endpoints require the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Browser WebSocket clients may pass the key as the api_key query parameter when
// server.allow_query_api_key is enabled.
//
// # Response Envelope
//
// Every JSON response uses the envelope defined in api/handlers:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "CONFLICT", "message": "..."}, "timestamp": "..."}
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8000
package api
