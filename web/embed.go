package web

import "embed"

// Content holds the embedded viewer (index.html, app.js, styles.css). It
// draws the SSE frame stream onto a canvas and forwards pointer lookups.
//
//go:embed index.html app.js styles.css
var Content embed.FS
