package policy

import "strings"

// hostPatterns stores exact hosts and suffix wildcards ("*.example.org" or
// ".example.org") derived from configuration.
type hostPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostPatterns(patterns []string) *hostPatterns {
	matcher := &hostPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (h *hostPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range h.suffixes {
		if existing == suffix {
			return
		}
	}
	h.suffixes = append(h.suffixes, suffix)
}

// Match reports whether host equals an exact entry or falls under a suffix.
func (h *hostPatterns) Match(host string) bool {
	if h == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := h.exact[host]; exact {
		return true
	}
	for _, suffix := range h.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
