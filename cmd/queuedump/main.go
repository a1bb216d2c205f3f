// queuedump prints the offline message queue from a tradewire database
// file, oldest first. Useful when debugging replay behavior.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"tradewire/internal/storage"
)

func main() {
	dbFile := flag.String("db", "tradewire.db", "Path to the tradewire database")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := storage.NewBboltStorage(*dbFile, logger)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	queue, err := store.LoadQueue()
	if err != nil {
		log.Fatalf("load queue: %v", err)
	}

	if len(queue) == 0 {
		fmt.Println("queue is empty")
		return
	}
	for i, qm := range queue {
		fmt.Printf("%3d  %s  conv=%s  status=%s  queuedAt=%s\n    %s\n",
			i+1, qm.LocalID, qm.Message.ConversationID, qm.Message.Status,
			qm.QueuedAt.Format("2006-01-02 15:04:05"), qm.Message.Content)
	}
}
