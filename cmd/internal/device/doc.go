// Package device binds students to client devices and verifies scans against
// those bindings.
//
// A binding stores a fingerprint: a fixed-length digest of a fixed, ordered
// set of stable device attributes. Verification recomputes the digest and
// compares it exactly; there is no fuzzy matching. Suspicious activity is
// appended to the binding with a severity, and a critical entry deactivates
// it. Each student has at most one primary binding, and promotion flips the
// old and new primary in a single statement.
//
// Restriction policies (geofence, time window) are pure predicates evaluated
// by the scan path before device checks.
package device
