// Package chat implements the client side of the real-time messaging core:
// a single authenticated websocket multiplexing the public channel, 1:1
// private chats, and group chats.
//
// [Session] is the facade consumers hold. It owns a [Transport] plus the
// presence [Roster], the typing coordinator, the conversation [Router], the
// [GroupManager], and the [UnreadTracker], and publishes one tagged-union
// stream of [Event] values. Inbound server events are dispatched serially
// on the transport read path, so component state is never mutated by two
// inbound events at once; outbound operations are fire-and-forget, with
// authoritative confirmations arriving as ordinary inbound events.
//
// Conversations are addressed by [ConversationKey], a comparable tagged
// value, so group ids and user ids can never collide in the per-conversation
// maps. Failed local pre-checks come back as *ValidationError,
// *PermissionError, or *NotFoundError before anything touches the wire;
// transport drops surface as *ConnectionError and inbound error events as
// *ServerError.
package chat
