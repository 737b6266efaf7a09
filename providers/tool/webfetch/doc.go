// Package webfetch implements the fetch_url tool: it downloads a page,
// converts HTML to Markdown and returns the page title, description and a
// length-limited body to the model.
package webfetch
