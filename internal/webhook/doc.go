// Package webhook turns HMAC-signed HTTP POSTs into router events.
//
// Each endpoint maps a path to one event type. A request is accepted only
// if its signature header carries a valid HMAC-SHA256 of the raw body
// ("sha256=<hex>" or bare hex). The JSON body becomes the event payload;
// a non-object body is kept as a string under "body".
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /hooks/github
//	      event_type: github.push
//	      secret: ${GITHUB_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MB
//
// Responses: 202 with the event id, 403 for any signature problem (no
// detail), 413 over the size limit, 503 once the router is closed.
package webhook
