// Package bulletin provides a message bulletin board for Go.
//
// Clients post short messages addressed from one email to another, flagged
// urgent or not and carrying free-form extra attributes. Messages are read
// back through paged listings, newest first, filtered by recipient, sender
// or urgency. Storage is pluggable (MongoDB, PostgreSQL, in-memory) and can
// be fronted by a Redis cache.
//
// # Basic Usage
//
//	svc, err := bulletin.NewService(
//	    bulletin.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	msg, err := svc.Create(ctx, &bulletin.CreateRequest{
//	    Target: "bob@example.com",
//	    Sender: "alice@example.com",
//	    Title:  "Standup moved",
//	    Urgent: bulletin.Bool(true),
//	})
//
//	stream, err := svc.GetByRecipient(ctx, "bob@example.com", 0, 10)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for msg, err := range stream.All(ctx) {
//	    ...
//	}
//
// # Search Modes
//
// Search accepts a mode string so transports can forward client input
// unchanged:
//
//   - "" (no mode): every message
//   - byRecipient, bySender: messages to or from an email
//   - byId: the message with that id, if any
//   - byUrgent: urgent messages
//   - urgentOnlyByRecipient, urgentOnlyBySender: both constraints
//
// Listings are ordered by publication time descending, ties broken by
// ascending id. Pages are zero-based.
//
// # Emails
//
// Email inputs are percent-decoded ("+" becomes a space), trimmed and
// lowercased before they are validated, stored or matched.
//
// # Errors
//
// Invalid input is reported as *ValidationError (errors.Is ErrInvalidInput)
// before the store is called. Store failures are reported as *StoreError
// (errors.Is ErrStoreFailure). A lookup for an unknown id is not an error.
//
// # Events
//
// Each service publishes MessageCreated and MessagesCleared on its own
// event bus. The transport defaults to noop; use WithRedisClient or
// WithEventTransport to deliver events elsewhere.
package bulletin
