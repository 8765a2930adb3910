// Package templates renders the HTML fragments returned to HTMX clients.
//
// The components are written in templ; run `templ generate` after editing
// a .templ file.
package templates
