// Package client is a Go client for the gatekeeper REST API.
//
//	c, err := client.New("http://gatekeeper:8080", client.WithPrincipal("X-User-ID", "admin-1"))
//	perm, err := c.Check(ctx, "org-1", "user-7", "site-3", "content.publish")
//
// Non-2xx replies are returned as *APIError carrying the server's error code.
package client
