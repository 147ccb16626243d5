package render

import (
	"encoding/base64"
	"fmt"
	"html"
	"strings"
)

const signatureSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="120" viewBox="0 0 400 120">` +
	`<rect width="400" height="120" fill="#ffffff"/>` +
	`<text x="24" y="78" font-family="'Dancing Script','Brush Script MT',cursive" font-size="44" fill="#1f2937">%s</text>` +
	`</svg>`

// TypedSignature renders name in a cursive face and returns it as an SVG
// data URI. A blank name yields the empty string.
func TypedSignature(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	svg := fmt.Sprintf(signatureSVG, html.EscapeString(name))
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
