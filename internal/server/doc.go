// Package server hosts the Fiber HTTP service, the request middleware chain and
// the host registry glue that maps a request Host header to an upstream route.
// The proxy package plugs into NewApp through the ProxyHandler interface, and
// the routes subpackage registers the /-/ control and diagnostics surface.
// Keep exports narrow and accept explicit dependencies.
package server
