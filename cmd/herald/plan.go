package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/herald/pkg/actions"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with action plans",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a plan file",
	Long: `Parse a plan from a JSON or YAML file and print the steps that would run,
in execution order, plus any entries that would be skipped.

Examples:
  herald plan validate -f plan.json
  herald plan validate -f plan.yaml`,
	RunE: runPlanValidate,
}

func init() {
	planValidateCmd.Flags().StringP("file", "f", "", "Plan file, JSON or YAML (required)")
	_ = planValidateCmd.MarkFlagRequired("file")

	planCmd.AddCommand(planValidateCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	raw, err := planJSON(filename, data)
	if err != nil {
		return err
	}

	plan, err := actions.ParsePlan(raw)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Plan is valid: %d step(s)\n", len(plan.Steps))
	for _, step := range plan.Steps {
		fmt.Printf("  %d. %s\n", step.Order, step.Name)
	}
	if len(plan.Warnings) > 0 {
		fmt.Println("Skipped entries:")
		for _, w := range plan.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	return nil
}

// planJSON returns the plan document as JSON. Files ending in .yaml or
// .yml are converted; anything else is passed through. Conversion does not
// keep key order, so steps with equal execution order sort by name.
func planJSON(filename string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %v", err)
	}
	return raw, nil
}
