// Package relay implements the chat-roulette core: a registry of live client
// connections, a FIFO pool of connections searching for a partner, the
// symmetric partnership table, and the routing of client messages between
// partners.
//
// All state is owned by a single Service and guarded by one mutex, so every
// operation observes and leaves a consistent view: a connection is Idle,
// Searching (in the pool) or Paired (in the partnership table), never two of
// those at once. Outbound delivery goes through Transport.Send, which must not
// block; messages from one connection therefore reach its partner in the order
// they were routed.
package relay
