package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flagcore/flagcore/internal/changelog"
	"github.com/flagcore/flagcore/internal/telemetry"
)

const streamKeepalive = 15 * time.Second

// handleStream serves the change feed over SSE. The client resumes from its
// last seen sequence via ?from=; every later entry is delivered in commit
// order as a "change" event with the sequence as the event id. A client
// whose offset fell out of the retention window, or that reads too slowly
// to keep a gap-free view, gets a terminal "resync_required" event and must
// reload a snapshot before reconnecting.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, r, "streaming unsupported")
		return
	}

	fromSeq := int64(0)
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			BadRequestError(w, r, ErrCodeBadRequest, "from must be a non-negative sequence number")
			return
		}
		fromSeq = v
	}

	sub, err := s.feed.Subscribe(fromSeq)
	if err != nil {
		writeErrorResponse(w, r, http.StatusConflict, ErrCodeResyncRequired,
			"offset outside retained window, reload a snapshot and resubscribe")
		return
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	telemetry.StreamClients.Inc()
	defer telemetry.StreamClients.Dec()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case e, open := <-sub.C:
			if !open {
				if sub.Err() == changelog.ErrResyncRequired {
					_, _ = fmt.Fprint(w, "event: resync_required\ndata: {}\n\n")
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e changelog.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: change\ndata: %s\n\n", e.Seq, data)
	return err
}
