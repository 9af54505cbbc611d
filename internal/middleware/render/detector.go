package render

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Detector decides whether a page is a client-rendered shell that needs a
// browser to produce its content.
type Detector struct {
	// SmallBody is the size under which a script-heavy page is treated as a
	// shell.
	SmallBody int
	// MinText is the visible text below which a page with an app mount
	// point is treated as a shell.
	MinText int
}

const (
	defaultSmallBody = 2048
	defaultMinText   = 200
	// scriptSharePct of a small body spent in <script> marks a shell.
	scriptSharePct = 25
)

// mountSelectors match the root elements single-page apps hydrate into.
const mountSelectors = "#__next, #root, #app, [data-reactroot], [ng-app]"

// NewDetector applies defaults to zero thresholds.
func NewDetector(smallBody, minText int) *Detector {
	if smallBody <= 0 {
		smallBody = defaultSmallBody
	}
	if minText <= 0 {
		minText = defaultMinText
	}
	return &Detector{SmallBody: smallBody, MinText: minText}
}

// NeedsRender reports whether body looks like an unrendered app shell.
func (d *Detector) NeedsRender(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scriptBytes += len(html)
		}
	})
	if len(body) < d.SmallBody && scriptBytes*100/len(body) >= scriptSharePct {
		return true
	}

	if doc.Find(mountSelectors).Length() == 0 {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return len(text) < d.MinText
}
