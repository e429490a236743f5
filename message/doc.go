// Package message defines the chat message model shared by the registry
// client and the sync engine.
//
// A Message combines immutable ledger fields (sender, recipient, content
// identifier, timestamp) with a client-local delivery status that tracks an
// in-flight send. Message content is a tagged variant (text, media, voice)
// serialized into the single string field the registry carries. The Index
// type keeps an ordered, id-addressable view of a loaded conversation so
// status transitions never require rebuilding the collection.
package message
