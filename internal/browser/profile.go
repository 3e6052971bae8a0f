package browser

import "math/rand/v2"

// Profile is the per-session fingerprint: user agent plus viewport.
type Profile struct {
	UserAgent string
	Width     int
	Height    int
}

func (p Profile) withDefaults() Profile {
	if p.UserAgent == "" {
		p.UserAgent = userAgents[0]
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = viewports[0][0], viewports[0][1]
	}
	return p
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
}

var viewports = [][2]int{
	{1920, 1080},
	{1536, 864},
	{1440, 900},
	{1366, 768},
	{1280, 800},
}

// RandomProfile picks a random user agent and viewport so consecutive
// sessions do not share a fingerprint.
func RandomProfile() Profile {
	vp := viewports[rand.IntN(len(viewports))]
	return Profile{
		UserAgent: userAgents[rand.IntN(len(userAgents))],
		Width:     vp[0],
		Height:    vp[1],
	}
}
