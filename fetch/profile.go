package fetch

import (
	"math/rand"
	"net/http"
)

// Profile is one browser impersonation identity: the header-level part of
// the fingerprint the client presents. The TLS-level impersonation is
// selected by name through the transport the client is built with; what
// matters here is that the whole profile stays fixed for a session, since
// switching fingerprints mid-session is itself a detectable anomaly.
type Profile struct {
	Name      string
	UserAgent string
	Headers   http.Header
}

func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:      "chrome",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
			Headers: http.Header{
				"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
				"Accept-Language": []string{"pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7"},
				"Sec-Ch-Ua":       []string{`"Chromium";v="122", "Not(A:Brand";v="24", "Google Chrome";v="122"`},
				"Sec-Fetch-Dest":  []string{"document"},
				"Sec-Fetch-Mode":  []string{"navigate"},
				"Sec-Fetch-Site":  []string{"none"},
			},
		},
		{
			Name:      "firefox",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
			Headers: http.Header{
				"Accept":                    []string{"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
				"Accept-Language":           []string{"pl,en-US;q=0.7,en;q=0.3"},
				"Upgrade-Insecure-Requests": []string{"1"},
			},
		},
		{
			Name:      "safari",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
			Headers: http.Header{
				"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
				"Accept-Language": []string{"pl-PL,pl;q=0.9"},
			},
		},
	}
}

func pickProfile(profiles []Profile) Profile {
	return profiles[rand.Intn(len(profiles))]
}
