// Package identity holds Rollcall's caller identity primitives.
//
// It defines the stable error kinds shared by domain packages, the closed
// capability model (student, faculty, admin mapped to explicit action sets),
// and verification of bearer claims into a Principal.
//
// Authentication of users themselves (registration, passwords, profiles) is
// owned by an external service; this package only consumes its signed claims.
package identity
