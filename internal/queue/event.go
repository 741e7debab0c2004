// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer pair for the notification queue.
package queue

// NotificationQueue is the durable queue outbound notifications are
// published to.
const NotificationQueue = "auction.notifications"

// NotificationEvent is one outbound message (email/WhatsApp) for a single
// recipient.  Delivery workers render TemplateKey with Params; DedupeKey
// identifies the logical message so duplicates can be dropped.
type NotificationEvent struct {
    ID          string            `json:"id"`
    RecipientID uint64            `json:"recipient_id"`
    TemplateKey string            `json:"template_key"`
    Params      map[string]string `json:"params"`
    DedupeKey   string            `json:"dedupe_key"`
    QueuedAt    string            `json:"queued_at"`
}
