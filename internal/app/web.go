package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/rep_counter/internal/config"
	"github.com/relabs-tech/rep_counter/internal/metrics"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	browserBuffer = 16
	writeWait     = 2 * time.Second
	pingPeriod    = 10 * time.Second
)

// StateView is the /api/state response.
type StateView struct {
	State   string    `json:"state"`
	Reps    int       `json:"reps"`
	Source  string    `json:"source"` // websocket or mqtt
	Updated time.Time `json:"updated"`
	Device  string    `json:"device,omitempty"` // online/offline from the status topic
	Devices int       `json:"devices"`          // open device websockets

	// set from the last setEnd, cleared when the next set starts
	Summary *telemetry.SetSummary `json:"summary,omitempty"`
	Tip     string                `json:"tip,omitempty"`
}

// Gateway accepts events from counters (websocket or MQTT) and relays them
// to browsers.
type Gateway struct {
	mu       sync.RWMutex
	last     StateView
	have     bool
	setEnd   *telemetry.Event
	status   string
	devices  int
	browsers map[chan telemetry.Event]struct{}
}

func NewGateway() *Gateway {
	return &Gateway{browsers: make(map[chan telemetry.Event]struct{})}
}

// Publish records ev and fans it out. sensorData events with an unknown
// state and setEnd events without a summary are dropped.
func (g *Gateway) Publish(ev telemetry.Event, source string) bool {
	if !ev.Valid() {
		metrics.MalformedMessages.Inc()
		log.Printf("web: ignoring event %+v from %s", ev, source)
		return false
	}
	metrics.EventsRelayed.WithLabelValues(source).Inc()

	g.mu.Lock()
	defer g.mu.Unlock()
	if ev.Event == telemetry.EventSetEnd {
		g.setEnd = &ev
		if !g.have {
			g.last = StateView{State: ev.State, Reps: ev.Reps, Source: source, Updated: time.Now()}
			g.have = true
		}
	} else {
		g.setEnd = nil
		g.last = StateView{State: ev.State, Reps: ev.Reps, Source: source, Updated: time.Now()}
		g.have = true
	}
	for ch := range g.browsers {
		select {
		case ch <- ev:
		default:
			log.Printf("web: browser too slow, dropping %s event", ev.State)
		}
	}
	return true
}

// SetStatus records the device's retained online/offline status.
func (g *Gateway) SetStatus(s string) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

// State returns the latest event, false before the first one.
func (g *Gateway) State() (StateView, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v := g.last
	v.Device = g.status
	v.Devices = g.devices
	if g.setEnd != nil {
		v.Summary = g.setEnd.Summary
		v.Tip = g.setEnd.Tip
	}
	return v, g.have
}

// Router wires the HTTP surface. staticDir may be "".
func (g *Gateway) Router(staticDir string) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws/device", g.handleDevice).Methods("GET")
	router.HandleFunc("/ws", g.handleBrowser).Methods("GET")
	router.HandleFunc("/api/state", g.handleState).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if staticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return router
}

// SubscribeMQTT follows the counter's topics. Subscriptions are renewed on
// every reconnect.
func (g *Gateway) SubscribeMQTT(broker, clientID, sensorTopic, statusTopic string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Printf("web: connected to MQTT broker at %s", broker)
			watchSubscribe(c.Subscribe(sensorTopic, 0, g.onSensorData), sensorTopic)
			if statusTopic != "" {
				watchSubscribe(c.Subscribe(statusTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
					g.SetStatus(string(msg.Payload()))
				}), statusTopic)
			}
		})

	client := mqtt.NewClient(opts)
	client.Connect()
	return client
}

// watchSubscribe logs the outcome of a subscription. Handlers run on paho's
// goroutine, so the token is waited on elsewhere.
func watchSubscribe(token mqtt.Token, topic string) {
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("web: subscribe to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Printf("web: subscribe to %s failed: %v", topic, err)
			return
		}
		log.Printf("web: subscribed to %s", topic)
	}()
}

func (g *Gateway) onSensorData(_ mqtt.Client, msg mqtt.Message) {
	var ev telemetry.Event
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		metrics.MalformedMessages.Inc()
		log.Printf("web: MQTT payload unmarshal error: %v", err)
		return
	}
	g.Publish(ev, "mqtt")
}

func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	v, ok := g.State()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

// accept upgrades and sends the connection_ack that marks the session live.
func accept(w http.ResponseWriter, r *http.Request, role string) (*websocket.Conn, string, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: %s websocket upgrade error: %v", role, err)
		return nil, "", false
	}
	sid := uuid.NewString()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(telemetry.Control{Type: telemetry.TypeConnectionAck, SID: sid}); err != nil {
		log.Printf("web: %s ack error: %v", role, err)
		conn.Close()
		return nil, "", false
	}
	log.Printf("web: %s session %s from %s", role, sid, r.RemoteAddr)
	return conn, sid, true
}

func (g *Gateway) handleDevice(w http.ResponseWriter, r *http.Request) {
	conn, sid, ok := accept(w, r, "device")
	if !ok {
		return
	}
	defer conn.Close()

	metrics.Sessions.WithLabelValues("device").Inc()
	defer metrics.Sessions.WithLabelValues("device").Dec()
	g.mu.Lock()
	g.devices++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.devices--
		g.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("web: device session %s closed: %v", sid, err)
			return
		}
		var ev telemetry.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			metrics.MalformedMessages.Inc()
			log.Printf("web: device %s sent malformed message: %v", sid, err)
			continue
		}
		g.Publish(ev, "websocket")
	}
}

func (g *Gateway) handleBrowser(w http.ResponseWriter, r *http.Request) {
	conn, sid, ok := accept(w, r, "browser")
	if !ok {
		return
	}
	defer conn.Close()

	metrics.Sessions.WithLabelValues("browser").Inc()
	defer metrics.Sessions.WithLabelValues("browser").Dec()

	send := make(chan telemetry.Event, browserBuffer)
	g.mu.Lock()
	if g.have {
		send <- telemetry.NewEvent(g.last.State, g.last.Reps)
	}
	if g.setEnd != nil {
		send <- *g.setEnd
	}
	g.browsers[send] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.browsers, send)
		g.mu.Unlock()
	}()

	// browsers only talk to us to close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Printf("web: browser session %s closed", sid)
			return
		case ev := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("web: browser %s write error: %v", sid, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// RunWeb serves the gateway until ctx is cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()

	g := NewGateway()
	client := g.SubscribeMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb, cfg.TopicSensorData, cfg.TopicStatus)
	defer client.Disconnect(250)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: g.Router("web"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web server listening on %s", srv.Addr)
	log.Printf("  GET /ws/device - counter event stream")
	log.Printf("  GET /ws        - browser event stream")
	log.Printf("  GET /api/state - latest state")
	log.Printf("  GET /metrics   - Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
