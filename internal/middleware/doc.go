// Package middleware composes request/response interceptors in onion order.
// Request hooks run in declared order before the transport call; response
// hooks run in reverse order after it. Concrete interceptors live in the
// sub-packages and are selected by name through the registry.
package middleware
