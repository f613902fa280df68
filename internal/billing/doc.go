// Package billing handles credit purchases and subscription state changes
// reported by the payment gateway.
//
// Order and subscription creation happen on the gateway side and are not
// part of this package. LinkPulse only:
//   - verifies a completed order (HMAC-SHA256 over "order_id|payment_id"
//     with the key secret) and adds the purchased credit pack
//   - verifies subscription webhooks (HMAC-SHA256 over the raw body with
//     the webhook secret) and mirrors the subscription onto the user
//     named in notes.userId
//
// Signatures are hex encoded and compared in constant time.
package billing
