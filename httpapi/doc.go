// Package httpapi exposes an authgate.Engine as a JSON API on a chi router.
//
// Every failure is rendered as {"error": <generic message>, "kind": <kind>}
// where kind is one of the authgate.ErrorKind values. Internal causes are
// logged with the request id and never written to the client.
package httpapi
