// Copyright 2020 Zalando SE
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package proxy implements the HTTP handler serving the A/B variants of a
page.

Every request is handled in the same sequence of steps, and any failing
step ends the request with a plain text response with status 500.

# Proxy Mechanism

1. manifest:

The variant manifest is fetched from the configured endpoint. It lists
the URLs of exactly two variants. When the endpoint cannot be reached,
responds with a status other than 200, or the document is invalid, the
client receives "Failed to obtain Variant URLs".

2. variant selection:

The variant is selected by the traffic package, sticking to the variant
named by the variant cookie of the request, or drawing one of the two
variants with an even chance.

3. variant request:

The selected variant is fetched with a GET request. The outgoing
requests carry the flow id of the incoming request, or a newly generated
one, in the X-Flow-Id header. When the variant origin cannot be reached
or responds with a status other than 200, the client receives "Failed to
obtain Variant <index>". There are no retries, and no fallback to the
other variant.

4. cookie:

When the variant was newly drawn, the Set-Cookie header of the response
is set to persist the selection for an hour. Sticky selections don't get
a new cookie.

5. rewrite:

HTML responses, or responses without content type, are streamed through
the page rewriter of the rewrite package, themed by the selected variant.
Bodies encoded with gzip, deflate or br are decoded first, and the
Content-Encoding and Content-Length headers are dropped. Other responses
are passed through, and they are decoded only when their encoding is not
accepted by the client. Responses with unsupported encodings are passed
through as they are.

6. response:

The status code, the headers and the body are copied to the client. The
body is flushed after every read, so the client receives the rewritten
page while the origin is still sending it.

# Handle

Handle runs the steps 1-5 and returns the response object without
writing it, which makes it usable outside of an http.Server. ServeHTTP
calls Handle and runs step 6.
*/
package proxy
