// Package ingest feeds chat events from NATS JetStream into the engine.
//
// Transport adapters publish types.ChatMessage values as JSON onto a stream
// with Publisher; a Consumer pulls them with a durable consumer and hands
// each one to a Handler. Handler errors NAK the message for redelivery;
// undecodable messages are terminated so they are never redelivered.
package ingest
