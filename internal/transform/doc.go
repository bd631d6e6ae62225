// Package transform holds the stock file steps used by the conventional build
// tasks. The engine treats every step as opaque.
package transform
