/*
Package variantedge provides an HTTP edge handler serving one of two page
variants to each client, keeping the client on the same variant with a
cookie, and personalizing the served page while streaming it.

For every request, variantedge fetches the list of the two variant URLs
from a manifest endpoint, selects the variant of the client, fetches the
selected variant, and rewrites a few elements of the page: the title,
the heading, the description, the call to action link, and the colour
theme of the page. Variant 0 is served in the Indigo theme, variant 1 in
the Green theme.

# Quickstart

Build and start variantedge with the default manifest endpoint:

	go build ./cmd/variantedge
	./variantedge -address :9090

Then request a page:

	curl -v localhost:9090

The first response carries a Set-Cookie header with the selected
variant, e.g. "variant=1; Expires=Thu, 23 Apr 2020 12:30:00 GMT;". Sending
the cookie back keeps the client on the same variant:

	curl -v -H 'Cookie: variant=1' localhost:9090

To use a different manifest endpoint, pass its URL:

	./variantedge -manifest-url https://variants.example.org/api/variants

The manifest is a JSON document listing exactly two URLs:

	{"variants": ["https://a.example.org", "https://b.example.org"]}

# Failures

When the manifest cannot be obtained, variantedge responds with status
500 and the text "Failed to obtain Variant URLs". When the selected
variant cannot be obtained, it responds with status 500 and the text
"Failed to obtain Variant <index>". There are no retries.

# Configuration

variantedge is configured with command line flags, or a YAML file passed
with -config-file, where the flags take precedence over the file. For the
list of the flags, run:

	variantedge -help

# Support Listener

The support listener, by default on :9911, serves the Prometheus metrics
under /metrics and a health check under /healthz.

# Logging

The application log and the access log are written to /dev/stderr by
default. The access log uses the Apache combined log format, extended
with the duration, the requested host and the flow id, or JSON.

# Packages

The cookie package encodes and decodes the variant cookie, the traffic
package selects the variant, the rewrite package implements the
streaming HTML rewriter, the manifest package fetches the variant URLs,
and the proxy package implements the HTTP handler connecting them.
*/
package variantedge
