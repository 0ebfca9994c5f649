/*
Package executor runs the plan stored on a task.

A run parses the plan, reports "initializing", then walks the included steps
in executionOrderIfIncluded order:

	for each step:
	    report the kind's progress label
	    dispatch to the typed handler (panics become failures)
	    store Outcome.Data in the result store, success or not
	    record a failure and carry on

The Report collects every stored result for the task, the plan warnings,
and a message naming each failed step. A plan that is not valid JSON or has
no actions object fails before any handler runs.
*/
package executor
