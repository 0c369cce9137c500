package relay

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// SSEHandler streams lifecycle events as SSE. Clients may filter by tab via
// ?tabs=1,2 and by type via ?types=clicked,session_ended.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		tabFilter, err := parseTabFilter(r.URL.Query().Get("tabs"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		typeFilter := parseSet(r.URL.Query().Get("types"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if tabFilter != nil && !tabFilter[evt.TabID] {
					continue
				}
				if typeFilter != nil && !typeFilter[evt.Type] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Payload())
				flusher.Flush()
			}
		}
	}
}

func parseTabFilter(q string) (map[tabs.TabID]bool, error) {
	set := parseSet(q)
	if set == nil {
		return nil, nil
	}
	out := make(map[tabs.TabID]bool, len(set))
	for s := range set {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid tab id %q", s)
		}
		out[tabs.TabID(n)] = true
	}
	return out, nil
}

func parseSet(q string) map[string]bool {
	if q == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
