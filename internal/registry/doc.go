// Package registry keeps the node-local mapping from topics to subscribers.
//
// The registry knows nothing about the broker or other nodes. A relay forwards
// broadcasts received from the cluster into Broadcast, which delivers to every
// local subscriber of the topic.
//
// Subscribers are identified by ID. Subscribing the same ID twice to a topic
// replaces the earlier subscriber; Broadcast skips the subscriber whose ID
// equals the message's From, so a publisher does not receive its own message.
//
// All methods are safe for concurrent use.
package registry
