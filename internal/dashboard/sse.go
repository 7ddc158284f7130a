package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultStreamInterval = 3 * time.Second
	heartbeatInterval     = 15 * time.Second
)

// handleSSE streams a stats event on connect and whenever the stats change,
// with periodic heartbeats.
func handleSSE(opts StartOpts, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		last := buildStats(opts.Core, opts.Now())
		writeSSE(c.Writer, "stats", last)
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": opts.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				cur := buildStats(opts.Core, opts.Now())
				if cur == last {
					continue
				}
				last = cur
				writeSSE(c.Writer, "stats", cur)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
