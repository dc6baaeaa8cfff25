// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated request identity through the
// server's request contexts.
package auth

import (
	"context"
)

type contextKey string

const (
	subjectKey  contextKey = "subject"
	deviceIDKey contextKey = "device_id"
)

// SetSubject stores the authenticated subject (account email) in ctx.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// GetSubject retrieves the authenticated subject from ctx.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}

// SetDeviceID stores the calling device id in ctx.
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the calling device id from ctx.
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetAuthContext stores both identity values at once.
func SetAuthContext(ctx context.Context, subject, deviceID string) context.Context {
	ctx = SetSubject(ctx, subject)
	return SetDeviceID(ctx, deviceID)
}
