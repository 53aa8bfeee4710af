package http

import (
	"context"
	"errors"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	stationKey
)

var errNoUser = errors.New("user_id is not present in request context")

// GetUserIDFromContext returns the user the auth middleware resolved from the
// access token.
func GetUserIDFromContext(ctx context.Context) (int32, error) {
	id, ok := ctx.Value(userIDKey).(int32)
	if !ok || id <= 0 {
		return 0, errNoUser
	}
	return id, nil
}

func withUserID(ctx context.Context, userID int32) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// stationFromContext returns the station serial a device token was issued to,
// if any.
func stationFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stationKey).(string)
	return s
}

func withStation(ctx context.Context, serial string) context.Context {
	return context.WithValue(ctx, stationKey, serial)
}
