package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"whispr-capture-service/internal/app"
	"whispr-capture-service/internal/audio"
	"whispr-capture-service/internal/audio/meter"
	"whispr-capture-service/internal/models"
	"whispr-capture-service/internal/observability/metrics"
)

const (
	liveBuffer   = 64
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local consumers only
	},
}

// liveHandler streams level and note events to a websocket client until it
// disconnects. Events the client cannot keep up with are dropped.
func liveHandler(application *app.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		defer conn.Close()

		metrics.DefaultMetrics.RecordLiveClient(true)
		defer metrics.DefaultMetrics.RecordLiveClient(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Reads only detect the disconnect.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		out := make(chan any, liveBuffer)
		offer := func(v any) {
			select {
			case out <- v:
			default:
			}
		}

		var wg sync.WaitGroup
		orch := application.Orchestrator

		notes, unsubscribeNotes := orch.SubscribeNotes(4)
		defer unsubscribeNotes()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case n, ok := <-notes:
					if !ok {
						return
					}
					offer(n.Snapshot())
				}
			}
		}()

		for _, kind := range orch.Sources() {
			stream, _ := orch.Stream(kind)
			levels, unsubscribe := stream.SubscribeLevels(4)
			defer unsubscribe()
			wg.Add(1)
			go func(kind audio.SourceKind, levels <-chan meter.Levels) {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case l, ok := <-levels:
						if !ok {
							return
						}
						offer(models.LevelUpdate{
							EventType: models.EventLevels,
							Source:    kind.String(),
							Average:   l.Average,
							Peak:      l.Peak,
							Timestamp: time.Now().UnixMilli(),
						})
					}
				}
			}(kind, levels)
		}

		offer(orch.LastNote().Snapshot())

		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case v := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(v); err != nil {
					log.Debug().Err(err).Msg("Live client write failed")
					cancel()
				}
			}
		}
	}
}
