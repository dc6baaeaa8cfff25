// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// TrackPoint is one sampled GPS position of a ride. The recording flow
// appends points while a session is active; the resulting slice is
// serialized into Route.Track. The sync engine never looks inside.
type TrackPoint struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EncodeTrack serializes a point sequence for storage.
func EncodeTrack(points []TrackPoint) (json.RawMessage, error) {
	if points == nil {
		points = []TrackPoint{}
	}
	data, err := json.Marshal(points)
	if err != nil {
		return nil, fmt.Errorf("failed to encode track: %w", err)
	}
	return data, nil
}

// DecodeTrack parses a stored track back into its point sequence.
func DecodeTrack(raw json.RawMessage) ([]TrackPoint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var points []TrackPoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("failed to decode track: %w", err)
	}
	return points, nil
}
