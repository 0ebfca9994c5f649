// Package handlers implements the built-in action handlers that plans run.
//
// Each handler reads what it needs from its collaborators, does one piece of
// work and returns an Outcome whose Data becomes the action's stored result.
// Handlers later in a plan read earlier results through the result store:
// llmPipeline renders its inputContexts into the prompt, and
// updateUserProfile and sendNotification fall back to the latest model
// output.
package handlers
