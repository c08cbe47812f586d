// Package middleware provides the gin middleware chain of the HTTP API:
// request id, recovery, tracing, access logging, body limit and timeout.
//
// Recommended order:
//
//	r.Use(middleware.RequestID(), middleware.Recovery(), middleware.Tracing("sentinel-rag"),
//	    middleware.Logger("/healthz"), middleware.BodyLimit(max), middleware.Timeout(d))
package middleware
