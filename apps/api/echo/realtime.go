package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/realtime"
)

// feedTables are the tables a client may subscribe to. Anything else is a 404
// rather than a silent empty stream.
var feedTables = map[string]bool{
	event.TableEvents:        true,
	event.TableRegistrations: true,
	member.TableMemberships:  true,
	member.TablePayments:     true,
}

type realtimeApi struct {
	bus *realtime.Bus
}

// registerRealtimeAPI mounts the change feed: one Server-Sent Events stream
// per table. Sits behind the session gate so a stream is only ever opened
// for a settled, authenticated session.
func registerRealtimeAPI(g *echo.Group, jwt echo.MiddlewareFunc, gate echo.MiddlewareFunc, bus *realtime.Bus) {
	api := realtimeApi{bus: bus}
	g.GET("/feed/:table", api.stream, jwt, gate)
}

// feedHeartbeat keeps intermediaries from reaping an idle stream.
var feedHeartbeat = 30 * time.Second

func (api *realtimeApi) stream(ctx echo.Context) error {
	table := ctx.Param("table")
	if !feedTables[table] {
		return errHttpNotFound
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	sub := api.bus.Subscribe(table)
	defer sub.Unsubscribe()

	heartbeat := time.NewTicker(feedHeartbeat)
	defer heartbeat.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil // client gone
			}
			res.Flush()
		case change, ok := <-sub.C:
			if !ok {
				return nil // bus closed, shutting down
			}
			payload, err := json.Marshal(FeedEvent{
				Table:  change.Table,
				Op:     string(change.Op),
				Record: change.Record,
			})
			if err != nil {
				return errors.Wrap(err, "marshalling feed event")
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", change.Op, payload); err != nil {
				return nil // client gone
			}
			res.Flush()
		}
	}
}

// FeedEvent is the JSON payload of one SSE `data:` line.
type FeedEvent struct {
	Table  string      `json:"table"`
	Op     string      `json:"op"`
	Record interface{} `json:"record"`
}
