package watch

import (
	"strings"
	"time"
)

// Pulse shows event activity as a row of dots that light up on each event
// and fade out over ten seconds.
type Pulse struct {
	lit       int
	lastEvent time.Time
}

const pulseWidth = 5

// OnEvent lights every dot.
func (p *Pulse) OnEvent(now time.Time) {
	p.lit = pulseWidth
	p.lastEvent = now
}

// Decay dims one dot for every two seconds without events.
func (p *Pulse) Decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	lit := pulseWidth - int(now.Sub(p.lastEvent)/(2*time.Second))
	if lit < 0 {
		lit = 0
	}
	if lit < p.lit {
		p.lit = lit
	}
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}
