package main

import (
	"testing"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanJSONFromYAML(t *testing.T) {
	doc := []byte(`
actions:
  getUserContext:
    isIncluded: true
    executionOrderIfIncluded: 1
  sendNotification:
    isIncluded: true
    executionOrderIfIncluded: 2
    body: Time to stretch
  updateUserProfile:
    isIncluded: false
    executionOrderIfIncluded: 3
`)

	raw, err := planJSON("plan.yaml", doc)
	require.NoError(t, err)

	plan, err := actions.ParsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "getUserContext", plan.Steps[0].Name)
	assert.Equal(t, "sendNotification", plan.Steps[1].Name)
}

func TestPlanJSONPassthrough(t *testing.T) {
	doc := []byte(`{"actions":{}}`)

	raw, err := planJSON("plan.json", doc)
	require.NoError(t, err)
	assert.Equal(t, doc, raw)

	_, err = planJSON("plan.yml", []byte("actions: [unclosed"))
	assert.Error(t, err)
}
