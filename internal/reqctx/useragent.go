package reqctx

import (
	"regexp"
	"strings"

	"github.com/TimurManjosov/contentship/internal/engine"
)

// mobileTokens mirrors the substrings hosts traditionally use to flag
// handheld devices.
var mobileTokens = []string{"Mobile", "Android", "Silk/", "Kindle", "BlackBerry", "Opera Mini", "Opera Mobi"}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// Order matters: Edge and Opera also claim to be Chrome, Chrome claims to be Safari.
var browserPatterns = []namedPattern{
	{"Edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{"Opera", regexp.MustCompile(`(?:OPR|Opera)/([\d.]+)`)},
	{"Samsung Internet", regexp.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{"Firefox", regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{"Chrome", regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{"Safari", regexp.MustCompile(`Version/([\d.]+).*Safari/`)},
	{"Internet Explorer", regexp.MustCompile(`(?:MSIE |Trident/.*rv:)([\d.]+)`)},
}

var osPatterns = []namedPattern{
	{"iOS", regexp.MustCompile(`iPhone|iPad|iPod`)},
	{"Android", regexp.MustCompile(`Android`)},
	{"Chrome OS", regexp.MustCompile(`CrOS`)},
	{"Windows", regexp.MustCompile(`Windows`)},
	{"macOS", regexp.MustCompile(`Mac OS X|Macintosh`)},
	{"Linux", regexp.MustCompile(`Linux`)},
}

// ParseUserAgent classifies a raw User-Agent header.
func ParseUserAgent(ua string) engine.Device {
	d := engine.Device{UserAgent: ua}
	if ua == "" {
		return d
	}
	for _, tok := range mobileTokens {
		if strings.Contains(ua, tok) {
			d.Mobile = true
			break
		}
	}
	for _, p := range browserPatterns {
		if m := p.re.FindStringSubmatch(ua); m != nil {
			d.Browser = p.name
			d.BrowserVersion = m[1]
			break
		}
	}
	for _, p := range osPatterns {
		if p.re.MatchString(ua) {
			d.OS = p.name
			break
		}
	}
	return d
}
