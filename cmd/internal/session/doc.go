// Package session implements the attendance session lifecycle.
//
// A session is a time-boxed window during which students redeem the session's
// QR token. Status only moves forward: active to expired (time elapsed),
// cancelled, or completed, all terminal. Expiry is derived from the wall clock
// on every read; the background sweep only keeps stored status tidy for
// listings, so scan acceptance never depends on it.
//
// Transport integration (HTTP/WS) is out of scope here.
package session
