package extract

import "bytes"

// clientRenderedLimit bounds the shells we inspect; real server-rendered
// articles are rarely this small.
const clientRenderedLimit = 10000

var spaMarkers = [][]byte{
	[]byte("window.__NUXT__"),
	[]byte("window.__NEXT_DATA__"),
	[]byte("__INITIAL_STATE__"),
	[]byte("react-root"),
	[]byte("app-root"),
	[]byte(`id="__next"`),
}

// LooksClientRendered reports whether raw looks like an empty single-page-app
// shell whose content is produced by JavaScript.
func LooksClientRendered(raw []byte) bool {
	if len(raw) == 0 || len(raw) >= clientRenderedLimit {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(raw, marker) {
			return true
		}
	}
	return false
}
