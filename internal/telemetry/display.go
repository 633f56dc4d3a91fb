package telemetry

import (
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

const (
	displayW = 128
	displayH = 64
)

// panel is the part of ssd1306.Dev the display uses.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Display shows the current state and rep count on an SSD1306 OLED.
// Send only records the event; a separate loop pushes frames to the panel
// so a slow I2C bus never stalls the sampling loop.
type Display struct {
	dev      panel
	interval time.Duration

	mu    sync.Mutex
	last  Event
	have  bool
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// OpenDisplay initializes periph, opens the I2C bus and the panel.
func OpenDisplay(busName string, interval time.Duration) (*Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized on bus %q", busName)

	return newDisplay(dev, interval), nil
}

func newDisplay(dev panel, interval time.Duration) *Display {
	d := &Display{
		dev:      dev,
		interval: interval,
		dirty:    true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Ready is always true; the panel is local.
func (d *Display) Ready() bool { return true }

// Send records the event for the next frame.
func (d *Display) Send(ev Event) {
	d.mu.Lock()
	d.last = ev
	d.have = true
	d.dirty = true
	d.mu.Unlock()
}

// Close stops the update loop.
func (d *Display) Close() {
	close(d.stop)
	<-d.done
}

func (d *Display) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		ev, have, dirty := d.last, d.have, d.dirty
		d.dirty = false
		d.mu.Unlock()
		if !dirty {
			continue
		}

		img := renderFrame(ev, have)
		if err := d.dev.Draw(d.dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: draw error: %v", err)
		}
	}
}

// renderFrame lays out one 128x64 frame.
func renderFrame(ev Event, have bool) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	line := func(y int, s string) {
		drawer.Dot = fixed.P(0, y)
		drawer.DrawString(s)
	}

	if !have {
		line(26, "Rep Counter")
		line(39, "Calibrating...")
		return img
	}

	if ev.Event == EventSetEnd && ev.Summary != nil {
		line(13, fmt.Sprintf("SET DONE: %d", ev.Reps))
		line(26, fmt.Sprintf("TUT %.1fs", float64(ev.Summary.TUTMs)/1000))
		line(39, fmt.Sprintf("fatigue %.0f%%", ev.Summary.FatigueIndex))
		return img
	}

	line(13, fmt.Sprintf("REPS: %d", ev.Reps))
	line(26, strings.ToUpper(ev.State))
	switch ev.State {
	case StateConcentric:
		line(39, "lifting")
	case StateEccentric:
		line(39, "lowering")
	case StateFailure:
		line(39, "!! FAILURE !!")
		line(52, "rack it")
	}
	return img
}
