// Package transport holds the network adapters behind crawler.Transport.
//
// The colly subpackage is the default HTTP transport. The headless
// subpackage renders GET requests in Chrome through chromedp. Neither applies
// crawl policy: robots, offsite and retry decisions live in middleware.
package transport
