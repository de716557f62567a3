// Package store keeps an SQLite audit log of administrative actions taken
// through the bot or the admin CLI.
//
// The log records who created or deleted which registration token and when.
// It is write-mostly and never consulted to answer token queries: the
// homeserver stays the only source of truth for token state.
//
// # Usage
//
//	s, err := store.Open("/var/lib/registration-bot/audit.db")
//	defer s.Close()
//	err = s.Append(ctx, &store.Entry{Actor: "@admin:example.org", Action: store.ActionCreateToken, Token: "abc"})
//	entries, err := s.List(ctx, 20)
package store
