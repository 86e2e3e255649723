// Package gateway holds the HTTP surface configuration shared by gateway
// implementations. The HTTP implementation in gateway/http serves one app:
//
//	POST /api/predict/        run a prediction
//	POST /api/flag/           flag a prediction
//	POST /api/queue/push/     enqueue a prediction
//	POST /api/queue/status/   poll a queued job
//	GET  /api/queue/ws        stream a queued job's status
//	GET  /config              interface description
//	GET  /health              liveness
//
// Request bodies are validated against JSON schemas before they reach the
// app. Invalid requests answer 400; prediction failures answer 500 and
// carry the error text only when the app enables show_error.
package gateway
