// Package notifications relays run outcomes to ntfy.
//
// The ntfy topic URL comes from config.toml; without one every call is a
// no-op. Delivery is best effort and callers only log failures.
package notifications
