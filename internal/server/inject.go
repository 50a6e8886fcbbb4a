package server

import (
	"bytes"

	"golang.org/x/net/html"
)

// injectScript returns page with a script tag for src placed before the last
// </body>, or appended when the page has none. page is not modified.
func injectScript(page []byte, src string) []byte {
	tag := `<script src="` + html.EscapeString(src) + `"></script>`

	z := html.NewTokenizer(bytes.NewReader(page))
	offset, at := 0, -1
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		n := len(z.Raw())
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				at = offset
			}
		}
		offset += n
	}
	if at < 0 || at > len(page) {
		at = len(page)
	}

	out := make([]byte, 0, len(page)+len(tag))
	out = append(out, page[:at]...)
	out = append(out, tag...)
	out = append(out, page[at:]...)

	return out
}
