// Package token implements the refresh-token helper. It walks the operator
// through the provider's authorization-code flow using a short-lived local
// callback listener, exchanges the delivered code for a refresh token and
// appends the token to the local settings file.
package token
