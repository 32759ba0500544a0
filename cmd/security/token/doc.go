// Package token derives log-safe identifiers from bearer credentials.
//
// Raw access tokens never reach a log line. Components log Fingerprint(token) instead,
// which is stable for the same token and short enough to grep.
package token
