package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Blob represents a single stored blob for display.
type Blob struct {
	Key          string
	Size         int64
	LastModified string
	URL          string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>"+html.EscapeString(title)+"</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head><body><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// IndexPage renders the blobs stored under prefix. Blobs without a public
// URL are listed without a link.
func IndexPage(prefix string, blobs []Blob) templ.Component {
	return Layout("Attache - Stored attachments", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Stored attachments</h1>")
		if err != nil {
			return err
		}
		if prefix != "" {
			_, err = fmt.Fprintf(w, "<p>Prefix: <code>%s</code></p>", html.EscapeString(prefix))
			if err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, "</header>")
		if err != nil {
			return err
		}

		if len(blobs) == 0 {
			_, err = io.WriteString(w, "<p>No attachments stored.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Key</th><th>Size (bytes)</th><th>Last Modified</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, b := range blobs {
			key := html.EscapeString(b.Key)
			if b.URL != "" {
				key = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(b.URL), key)
			}
			row := fmt.Sprintf("<tr><td>%s</td><td>%d</td><td>%s</td></tr>", key, b.Size, html.EscapeString(b.LastModified))
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}
