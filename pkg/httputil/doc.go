// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, role)
//	httputil.WriteDomainError(w, err)  // status from the authzerr category
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
//		return // 400 already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
