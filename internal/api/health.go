package api

import (
	"net/http"
)

// StreamStatus reports the firehose consumer's position.
type StreamStatus interface {
	Cursor() int64
	Malformed() int64
}

type HealthResponse struct {
	Status  string `json:"status"`
	Tenants int    `json:"tenants"`
	Cursor  int64  `json:"cursor"`
}

// HealthHandler reports liveness along with the registry size and stream cursor.
func HealthHandler(reg SnapshotSource, stream StreamStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy"}
		if reg != nil {
			resp.Tenants = reg.Snapshot().Len()
		}
		if stream != nil {
			resp.Cursor = stream.Cursor()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
