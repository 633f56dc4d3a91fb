package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/rep_counter/internal/app"
)

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker")
	flag.Parse()

	log.Println("starting rep counter MQTT producer (mock)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMockProducer(ctx, *broker); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
