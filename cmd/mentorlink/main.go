// Command mentorlink serves realtime rooms: websocket signaling, chat and
// presence for mentoring sessions.
package main

import (
	"context"
	"log"

	"github.com/dalemusser/mentorlink/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		log.Fatal(err)
	}
}
