package messages

import "time"

// Leita module messages occupy the 100 range.
const (
	MsgTypeLeitaRegionQueryRequest MsgType = iota + 100
	MsgTypeLeitaRegionQueryResponse
	MsgTypeLeitaRadiusQueryRequest
	MsgTypeLeitaRadiusQueryResponse
	MsgTypeLeitaStatsRequest
	MsgTypeLeitaStatsResponse
	MsgTypeLeitaWatchRequest
	MsgTypeLeitaWatchResponse
	MsgTypeLeitaWatchClearRequest
	MsgTypeLeitaWatchClearResponse
	MsgTypeLeitaWatchEvents
)

var leitaMsgTypeNames = map[MsgType]string{
	MsgTypeLeitaRegionQueryRequest:  "LEITA_REGION_QUERY_REQUEST",
	MsgTypeLeitaRegionQueryResponse: "LEITA_REGION_QUERY_RESPONSE",
	MsgTypeLeitaRadiusQueryRequest:  "LEITA_RADIUS_QUERY_REQUEST",
	MsgTypeLeitaRadiusQueryResponse: "LEITA_RADIUS_QUERY_RESPONSE",
	MsgTypeLeitaStatsRequest:        "LEITA_STATS_REQUEST",
	MsgTypeLeitaStatsResponse:       "LEITA_STATS_RESPONSE",
	MsgTypeLeitaWatchRequest:        "LEITA_WATCH_REQUEST",
	MsgTypeLeitaWatchResponse:       "LEITA_WATCH_RESPONSE",
	MsgTypeLeitaWatchClearRequest:   "LEITA_WATCH_CLEAR_REQUEST",
	MsgTypeLeitaWatchClearResponse:  "LEITA_WATCH_CLEAR_RESPONSE",
	MsgTypeLeitaWatchEvents:         "LEITA_WATCH_EVENTS",
}

type LeitaRegionQueryRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Region    Rect      `json:"region"`
}

type LeitaRegionQueryResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Entities  []Entity  `json:"entities"`
}

type LeitaRadiusQueryRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Center    Point     `json:"center"`
	Radius    float32   `json:"radius"`
}

type LeitaRadiusQueryResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Entities  []Entity  `json:"entities"`
}

type LeitaStatsRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
}

// IndexStats summarizes the session's spatial index.
type IndexStats struct {
	EntityCount uint32 `json:"entity_count"`
	NodeCount   uint32 `json:"node_count"`
	LeafCount   uint32 `json:"leaf_count"`
	MaxDepth    uint32 `json:"max_depth"`
	Capacity    uint32 `json:"capacity"`
	Bounds      Rect   `json:"bounds"`
}

type LeitaStatsResponse struct {
	Type      MsgType    `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID uint32     `json:"request_id"`
	Stats     IndexStats `json:"stats"`
}

// LeitaWatchRequest registers a region of interest. Entities entering
// or leaving the region are reported through LeitaWatchEvents at the
// end of each frame.
type LeitaWatchRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	Region    Rect      `json:"region"`
}

type LeitaWatchResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	WatchID   uint32    `json:"watch_id"`
}

type LeitaWatchClearRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
	// WatchID selects the watch to clear; zero clears all of the
	// participant's watches.
	WatchID uint32 `json:"watch_id,omitempty"`
}

type LeitaWatchClearResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id"`
}

// LeitaWatchEvent reports one entity crossing a watched region's
// boundary.
type LeitaWatchEvent struct {
	WatchID uint32 `json:"watch_id"`
	Entity  Entity `json:"entity"`
	Entered bool   `json:"entered"`
}

type LeitaWatchEvents struct {
	Type      MsgType           `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Events    []LeitaWatchEvent `json:"events"`
}
