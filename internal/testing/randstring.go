// Package testing holds small helpers shared by the package test suites.
package testing

import "math/rand"

const charSet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates a random 10-symbol name from the lower- and
// uppercase alphabet, used for unique usernames and chat names in tests.
func RandString() string {
	out := make([]byte, 10)
	for i := range out {
		out[i] = charSet[rand.Intn(len(charSet))]
	}
	return string(out)
}
