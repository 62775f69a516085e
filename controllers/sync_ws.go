package controller

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	syncengine "chatmirror/sync"
)

// HandleSyncProgressWS streams sync progress over a websocket. The client
// sends one request naming the conversation; checkpoint events arrive as the
// pass advances and the final frame carries the summary.
func HandleSyncProgressWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		Conversation string `json:"conversation"`
		Action       string `json:"action"`
	}

	if err := c.ReadJSON(&input); err != nil {
		log.Printf("Error reading JSON: %v", err)
		return
	}

	if input.Action != "sync" || input.Conversation == "" {
		c.WriteJSON(map[string]string{"error": "expected action \"sync\" with a conversation"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	events := make(chan syncengine.ProgressEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if err := c.WriteJSON(ev); err != nil {
				log.Printf("Error writing JSON: %v", err)
				cancel()
				return
			}
		}
	}()

	engine := *Engine
	engine.OnProgress = func(ev syncengine.ProgressEvent) {
		select {
		case events <- ev:
		default:
		}
	}

	summary, err := engine.SyncConversation(ctx, input.Conversation)
	close(events)
	<-done

	final := struct {
		Status  string              `json:"status"`
		Error   string              `json:"error,omitempty"`
		Summary *syncengine.Summary `json:"summary,omitempty"`
	}{Status: "completed", Summary: summary}
	if err != nil {
		final.Status = "failed"
		final.Error = err.Error()
	}
	if err := c.WriteJSON(final); err != nil {
		log.Printf("Error writing JSON: %v", err)
	}
}
