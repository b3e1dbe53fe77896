// Package board defines the rendered departure result model shared by all
// watch types, plus the dedup and truncation pass applied before results
// leave the evaluator.
package board
