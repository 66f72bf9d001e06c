package storage

// Package storage provides a minimal persistence layer used by the bot.
//
// It currently supports:
//   - Runtime settings (dashboard-adjustable overrides)
//   - Response outcome records (sent / suppression reason)
