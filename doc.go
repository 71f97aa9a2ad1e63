/*
Package datavis implements a node-based streaming data pipeline for
embedded-target data acquisition.

A single worker goroutine owns the whole pipeline: a graph of typed nodes
connected by validated edges, a variable tree describing everything
observable on the wire, and one reusable packet buffer per edge. Each tick
the worker drains pending commands, evaluates every active node in
topological order, and hands terminal packets to sinks that emit bounded,
non-blocking messages to the outside.

The outside world talks to the worker only through the Bridge: commands in,
sink messages and command results out. Nothing in the pipeline is shared
across goroutines.
*/
package datavis
