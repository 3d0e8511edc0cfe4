package main

import (
	"html/template"
	"net/http"
)

var returnPage = template.Must(template.New("return").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;margin:40px;max-width:720px;line-height:1.4}code{background:#f4f4f4;padding:2px 4px;border-radius:4px}</style>
</head><body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Ref}}<p>Payment reference: <code>{{.Ref}}</code></p>{{end}}
{{if .Session}}<p>Checkout session: <code>{{.Session}}</code></p>{{end}}
</body></html>
`))

// checkoutReturn renders the page Stripe Checkout redirects to.
func checkoutReturn(title, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = returnPage.Execute(w, map[string]string{
			"Title":   title,
			"Message": message,
			"Ref":     r.URL.Query().Get("payment_ref"),
			"Session": r.URL.Query().Get("session_id"),
		})
	}
}
