package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rep_counter/internal/config"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

// RunConsoleMQTT prints the counter's events and status as they arrive.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	stateToken := client.Subscribe(cfg.TopicSensorData, 0, func(_ mqtt.Client, msg mqtt.Message) {
		line, err := formatEvent(msg.Payload())
		if err != nil {
			log.Printf("console: sensorData unmarshal error: %v", err)
			return
		}
		fmt.Println(line)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSensorData)

	if cfg.TopicStatus != "" {
		statusToken := client.Subscribe(cfg.TopicStatus, 1, func(_ mqtt.Client, msg mqtt.Message) {
			fmt.Printf("[STATUS] device %s\n", msg.Payload())
		})
		statusToken.Wait()
		if statusToken.Error() != nil {
			return statusToken.Error()
		}
		log.Printf("console: subscribed to %s", cfg.TopicStatus)
	}

	<-ctx.Done()

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatEvent(payload []byte) (string, error) {
	var ev telemetry.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	if ev.Event == telemetry.EventSetEnd && ev.Summary != nil {
		return fmt.Sprintf("[SET] reps=%d failures=%d tut=%dms fatigue=%.1f%%  %s",
			ev.Summary.Reps, ev.Summary.Failures, ev.Summary.TUTMs, ev.Summary.FatigueIndex, ev.Tip), nil
	}
	return fmt.Sprintf("[STATE] reps=%3d  %s", ev.Reps, telemetry.Label(ev.State)), nil
}
