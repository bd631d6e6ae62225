// Package pipeline builds stream-style task units that read a file set, pass
// every file through a chain of steps and write the results to a destination.
package pipeline
