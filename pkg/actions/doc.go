/*
Package actions defines the closed set of actions a plan may contain.

A plan is a JSON document keyed by action name:

	{
	  "actions": {
	    "getUserContext": {"isIncluded": true, "executionOrderIfIncluded": 1},
	    "llmPipeline": {
	      "isIncluded": true,
	      "executionOrderIfIncluded": 2,
	      "systemInstructions": "dailyBriefing",
	      "inputContexts": ["getUserContext"]
	    },
	    "sendNotification": {"isIncluded": false, "executionOrderIfIncluded": 3}
	  }
	}

ParsePlan keeps only included entries, decodes each into its typed Action
and sorts them by executionOrderIfIncluded. An entry with an unknown name
or malformed parameters is skipped with a Warning; the plan as a whole is
rejected with ErrInvalidPlan only when it is not JSON or has no actions
object.

Each Kind has a Descriptor naming the data shape of its stored results and
the progress label shown while it runs. Handlers carries one typed
function per kind, and Dispatch selects it with a type switch.
*/
package actions
