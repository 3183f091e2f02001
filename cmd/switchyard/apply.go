package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opsline/switchyard/pkg/client"
	"github.com/opsline/switchyard/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a deployment or rollout manifest",
	Long: `Apply a switchyard manifest from a YAML file.

Examples:
  # Deploy a service version directly
  switchyard apply -f deployment.yaml

  # Start a progressive rollout
  switchyard apply -f rollout.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// manifest is the envelope every switchyard YAML file carries. The spec
// node is decoded according to kind.
type manifest struct {
	Kind string    `yaml:"kind"`
	Spec yaml.Node `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	serverAddr, _ := cmd.Flags().GetString("server")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	c := client.New(serverAddr)

	switch m.Kind {
	case "Deployment":
		return applyDeployment(cmd, c, &m)
	case "Rollout":
		return applyRollout(cmd, c, &m)
	default:
		return fmt.Errorf("unsupported manifest kind: %q", m.Kind)
	}
}

func applyDeployment(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var spec types.DeploymentSpec
	if err := m.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("failed to decode deployment spec: %w", err)
	}

	fmt.Printf("Deploying %s %s:%s...\n", spec.ServiceName, spec.Image, spec.Tag)
	result, err := c.Deploy(cmd.Context(), &spec)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Deployment %s: %s\n", result.DeploymentID, result.Status)
	if result.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", result.ErrorMessage)
	}
	return nil
}

func applyRollout(cmd *cobra.Command, c *client.Client, m *manifest) error {
	var config types.RolloutConfig
	if err := m.Spec.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode rollout config: %w", err)
	}

	fmt.Printf("Starting %s rollout for %s...\n", config.Strategy, config.ServiceName)
	rolloutID, err := c.StartRollout(cmd.Context(), &config)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Rollout started: %s\n", rolloutID)
	fmt.Printf("  watch it with: switchyard rollout status %s\n", rolloutID)
	return nil
}
