/*
Package compiler drives a compilation unit through the pipeline.

	Method Graphs ->
		inline ->
	Graphs with Inlining Paths ->
		calls closure, flag prohibited uses ->
	Live Graphs with Pruned Paths ->
		codegen ->
	Backend Module with Located Instructions ->
		verify, print ->
	Module Text
*/
package compiler
