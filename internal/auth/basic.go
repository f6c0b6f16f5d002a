// Package auth builds the credential headers sent to the upstream RFMS API.
package auth

import "encoding/base64"

// BasicHeader returns an HTTP Basic Authorization header value for the given
// username and secret: "Basic base64(username:secret)". The upstream expects
// the store identifier as the username and either the static API key (session
// begin) or a session token (all other calls) as the secret.
func BasicHeader(username, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+secret))
}
