package middleware

import (
	"context"
	"net/http"

	"github.com/sooksun/teachermon-sub002/pkg/models"
)

type contextKey string

const (
	identityKey    contextKey = "identity"
	keyPrefixKey   contextKey = "key_prefix"
	requestIDKey   contextKey = "request_id"
	accessEntryKey contextKey = "access_entry"
)

// accessEntry collects fields resolved deeper in the chain for the access log.
type accessEntry struct {
	teacherID string
}

// SetIdentity stores the caller and, when Logger wraps the request, records
// the teacher id for its access line.
func SetIdentity(ctx context.Context, id models.Identity) context.Context {
	if e, ok := ctx.Value(accessEntryKey).(*accessEntry); ok {
		e.teacherID = id.TeacherID
	}
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller set by Authenticate.
func GetIdentity(r *http.Request) (models.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(models.Identity)
	return id, ok
}

// RequestID returns the id Logger assigned, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func withAccessEntry(ctx context.Context, e *accessEntry) context.Context {
	return context.WithValue(ctx, accessEntryKey, e)
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
