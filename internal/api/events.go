package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/batch"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/eventbus"
)

// EventsHandler streams batch progress and per-account results as
// server-sent events until the client disconnects.
func EventsHandler(bus *eventbus.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Buffered so a slow client never blocks the batch goroutines.
		events := make(chan sseEvent, 64)

		onProgress := func(p batch.Progress) {
			select {
			case events <- sseEvent{name: "progress", data: p}:
			default:
			}
		}
		onResult := func(res batch.Result) {
			select {
			case events <- sseEvent{name: "result", data: res}:
			default:
			}
		}

		if err := bus.Subscribe(eventbus.TopicBatchProgress, onProgress); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := bus.Subscribe(eventbus.TopicBatchResult, onResult); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() {
			bus.Unsubscribe(eventbus.TopicBatchProgress, onProgress)
			bus.Unsubscribe(eventbus.TopicBatchResult, onResult)
		}()

		fmt.Fprintf(w, "event: ready\ndata: {}\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-events:
				payload, err := json.Marshal(ev.data)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload)
				flusher.Flush()
			}
		}
	}
}

type sseEvent struct {
	name string
	data any
}
