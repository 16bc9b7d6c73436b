// Package server is the WebSocket transport edge. It upgrades HTTP
// requests with gorilla/websocket, authenticates them, and bridges the
// socket to the coordinator: the read pump routes inbound frames, the
// write pump drains a bounded per-connection queue.
//
// The server holds no session state. A peer that stops draining its
// queue, or whose socket errors, is reported gone and torn down by the
// coordinator's disconnect cascade.
package server
