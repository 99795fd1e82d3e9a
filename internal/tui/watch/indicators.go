package watch

import (
	"strings"
	"time"
)

var pulseFrames = []string{"⟲", "⟳"}

// Pulse is the header's liveness indicator: a frame that advances on every
// UI tick and a row of dots that lights up on hub activity and fades.
type Pulse struct {
	frame     int
	level     int
	lastEvent time.Time
}

const pulseDots = 5

func (p *Pulse) Tick(now time.Time) {
	p.frame = (p.frame + 1) % len(pulseFrames)
	if p.level == 0 {
		return
	}
	// One dot fades every two seconds of silence.
	faded := int(now.Sub(p.lastEvent) / (2 * time.Second))
	p.level = max(pulseDots-faded, 0)
}

func (p *Pulse) Event(now time.Time) {
	p.level = pulseDots
	p.lastEvent = now
}

func (p Pulse) Frame() string { return pulseFrames[p.frame] }

func (p Pulse) LastEvent() time.Time { return p.lastEvent }

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < pulseDots; i++ {
		if i < p.level {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.Dim.Render("○"))
		}
	}
	return b.String()
}
