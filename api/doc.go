// Package api holds the wire types of the grantflow HTTP API.
//
// # Endpoints
//
//	POST /v1/workflows/{type}        run a workflow and wait for the result
//	POST /v1/workflows/{type}/async  accept a workflow and return its run id
//	GET  /v1/runs/{id}               poll one run
//	GET  /v1/runs?type=&limit=       list recorded runs, newest first
//	GET  /v1/circuits                breaker state of every dependency
//	GET  /v1/circuits/{name}         breaker state of one dependency
//	GET  /health, /ready, /metrics
//
// Step failures do not fail the request: a synchronous submission answers 200 with a
// result whose status is succeeded, partially_succeeded or failed. Only requests rejected
// before running (unknown type, bad payload, full async queue) answer with an error status.
//
// # Base URL
//
//	http://localhost:8080
package api
