package transport

import "fmt"

// IngressKey is the Redis list a service's workers BLPOP from.
func IngressKey(service string) string {
	return fmt.Sprintf("service:%s", service)
}

// ReplyToKey is the ephemeral per-client-instance list a server RPUSHes
// responses onto. It must match between a request's meta.ReplyTo and the
// key the server enqueues the response on.
func ReplyToKey(service, clientID string) string {
	return fmt.Sprintf("service:%s.%s!", service, clientID)
}
