// Package rabbitmq manages the AMQP connection used by the request/reply backend.
//
// ConnectionManager dials the broker, watches the connection for closure and
// redials with exponential backoff, notifying ConnectionStateListeners of each
// transition. Channels are opened on demand through Channel.
package rabbitmq
