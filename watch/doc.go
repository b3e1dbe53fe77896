// Package watch holds the saved watch definitions (registry + SQLite
// persistence) and the evaluator that turns a watch into a departure board.
package watch
