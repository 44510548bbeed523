package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a manifest file",
	Long: `Apply vapter resources from a YAML manifest.

Examples:
  # Apply a scan type definition
  vapter apply -f scan-type.yaml

  # Apply a multi-document inventory file
  vapter apply -f inventory.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("server", "", "Control plane URL (overrides config)")
	applyCmd.Flags().String("config", "", "Path to config file")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource is one generic vapter manifest document
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("server") {
		cfg.APIGatewayURL, _ = cmd.Flags().GetString("server")
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	c := client.NewClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	// Manifests may hold several documents separated by ---
	dec := yaml.NewDecoder(f)
	for {
		var resource Resource
		if err := dec.Decode(&resource); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if err := applyResource(ctx, c, &resource); err != nil {
			return err
		}
	}
}

func applyResource(ctx context.Context, c *client.Client, resource *Resource) error {
	if resource.APIVersion != "vapter.io/v1" {
		return fmt.Errorf("unsupported apiVersion: %s", resource.APIVersion)
	}
	if resource.Metadata.Name == "" {
		return fmt.Errorf("%s manifest is missing metadata.name", resource.Kind)
	}

	switch resource.Kind {
	case "Customer":
		return applyCustomer(ctx, c, resource)
	case "Target":
		return applyTarget(ctx, c, resource)
	case "PortList":
		return applyPortList(ctx, c, resource)
	case "ScanType":
		return applyScanType(ctx, c, resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyCustomer(ctx context.Context, c *client.Client, resource *Resource) error {
	email := getString(resource.Spec, "email", "")
	if email == "" {
		return fmt.Errorf("customer email is required")
	}

	existing, err := findCustomerByEmail(ctx, c, email)
	if err != nil {
		return err
	}
	if existing != nil {
		fields := map[string]interface{}{
			"name":  resource.Metadata.Name,
			"email": email,
		}
		copySpec(resource.Spec, "company", fields, "company_name")
		copySpec(resource.Spec, "phone", fields, "phone")
		copySpec(resource.Spec, "contactPerson", fields, "contact_person")
		copySpec(resource.Spec, "notes", fields, "notes")

		fmt.Printf("Updating customer: %s\n", resource.Metadata.Name)
		if _, err := c.UpdateCustomer(ctx, existing.ID, fields); err != nil {
			return fmt.Errorf("failed to update customer: %v", err)
		}
		fmt.Printf("✓ Customer updated: %s\n", resource.Metadata.Name)
		return nil
	}

	fmt.Printf("Creating customer: %s\n", resource.Metadata.Name)
	created, err := c.CreateCustomer(ctx, &types.Customer{
		Name:          resource.Metadata.Name,
		CompanyName:   getString(resource.Spec, "company", ""),
		Email:         email,
		Phone:         getString(resource.Spec, "phone", ""),
		ContactPerson: getString(resource.Spec, "contactPerson", ""),
		Notes:         getString(resource.Spec, "notes", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create customer: %v", err)
	}
	fmt.Printf("✓ Customer created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyTarget(ctx context.Context, c *client.Client, resource *Resource) error {
	address := getString(resource.Spec, "address", "")
	if address == "" {
		return fmt.Errorf("target address is required")
	}

	customerID, err := resolveCustomer(ctx, c, getString(resource.Spec, "customer", ""))
	if err != nil {
		return err
	}

	existing, err := findTarget(ctx, c, customerID, address)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("Updating target: %s\n", resource.Metadata.Name)
		_, err := c.UpdateTarget(ctx, existing.ID, map[string]interface{}{
			"name":        resource.Metadata.Name,
			"address":     address,
			"customer_id": customerID,
		})
		if err != nil {
			return fmt.Errorf("failed to update target: %v", err)
		}
		fmt.Printf("✓ Target updated: %s\n", resource.Metadata.Name)
		return nil
	}

	fmt.Printf("Creating target: %s\n", resource.Metadata.Name)
	created, err := c.CreateTarget(ctx, &types.Target{
		CustomerID: customerID,
		Name:       resource.Metadata.Name,
		Address:    address,
	})
	if err != nil {
		return fmt.Errorf("failed to create target: %v", err)
	}
	fmt.Printf("✓ Target created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyPortList(ctx context.Context, c *client.Client, resource *Resource) error {
	existing, err := findPortListByName(ctx, c, resource.Metadata.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		fields := map[string]interface{}{"name": resource.Metadata.Name}
		copySpec(resource.Spec, "tcpPorts", fields, "tcp_ports")
		copySpec(resource.Spec, "udpPorts", fields, "udp_ports")
		copySpec(resource.Spec, "description", fields, "description")

		fmt.Printf("Updating port list: %s\n", resource.Metadata.Name)
		if _, err := c.UpdatePortList(ctx, existing.ID, fields); err != nil {
			return fmt.Errorf("failed to update port list: %v", err)
		}
		fmt.Printf("✓ Port list updated: %s\n", resource.Metadata.Name)
		return nil
	}

	fmt.Printf("Creating port list: %s\n", resource.Metadata.Name)
	created, err := c.CreatePortList(ctx, &types.PortList{
		Name:        resource.Metadata.Name,
		TCPPorts:    getString(resource.Spec, "tcpPorts", ""),
		UDPPorts:    getString(resource.Spec, "udpPorts", ""),
		Description: getString(resource.Spec, "description", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create port list: %v", err)
	}
	fmt.Printf("✓ Port list created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyScanType(ctx context.Context, c *client.Client, resource *Resource) error {
	portListID := ""
	if ref := getString(resource.Spec, "portList", ""); ref != "" {
		id, err := resolvePortList(ctx, c, ref)
		if err != nil {
			return err
		}
		portListID = id
	}

	// Stage flags are authoritative: a flag omitted from the manifest
	// turns the stage off.
	fields := map[string]interface{}{
		"name":               resource.Metadata.Name,
		"only_discovery":     getBool(resource.Spec, "onlyDiscovery", false),
		"consider_alive":     getBool(resource.Spec, "considerAlive", false),
		"be_quiet":           getBool(resource.Spec, "beQuiet", false),
		"port_list_id":       portListID,
		"plugin_fingerprint": getBool(resource.Spec, "fingerprint", false),
		"plugin_vuln_engine": getBool(resource.Spec, "vulnEngine", false),
		"plugin_web":         getBool(resource.Spec, "web", false),
		"plugin_vuln_lookup": getBool(resource.Spec, "vulnLookup", false),
		"report_enabled":     getBool(resource.Spec, "reportEnabled", false),
		"description":        getString(resource.Spec, "description", ""),
	}

	existing, err := findScanTypeByName(ctx, c, resource.Metadata.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		fmt.Printf("Updating scan type: %s\n", resource.Metadata.Name)
		if _, err := c.UpdateScanType(ctx, existing.ID, fields); err != nil {
			return fmt.Errorf("failed to update scan type: %v", err)
		}
		fmt.Printf("✓ Scan type updated: %s\n", resource.Metadata.Name)
		return nil
	}

	fmt.Printf("Creating scan type: %s\n", resource.Metadata.Name)
	created, err := c.CreateScanType(ctx, &types.ScanType{
		Name:              resource.Metadata.Name,
		OnlyDiscovery:     getBool(resource.Spec, "onlyDiscovery", false),
		ConsiderAlive:     getBool(resource.Spec, "considerAlive", false),
		BeQuiet:           getBool(resource.Spec, "beQuiet", false),
		PortListID:        portListID,
		PluginFingerprint: getBool(resource.Spec, "fingerprint", false),
		PluginVulnEngine:  getBool(resource.Spec, "vulnEngine", false),
		PluginWeb:         getBool(resource.Spec, "web", false),
		PluginVulnLookup:  getBool(resource.Spec, "vulnLookup", false),
		ReportEnabled:     getBool(resource.Spec, "reportEnabled", false),
		Description:       getString(resource.Spec, "description", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create scan type: %v", err)
	}
	fmt.Printf("✓ Scan type created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

// Lookup helpers. The list endpoints match substrings, so results are
// re-checked for exact equality.

func findCustomerByEmail(ctx context.Context, c *client.Client, email string) (*types.Customer, error) {
	customers, err := c.ListCustomers(ctx, url.Values{"email": {email}})
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %v", err)
	}
	for _, customer := range customers {
		if customer.Email == email {
			return customer, nil
		}
	}
	return nil, nil
}

func findTarget(ctx context.Context, c *client.Client, customerID, address string) (*types.Target, error) {
	targets, err := c.ListTargets(ctx, url.Values{"customer_id": {customerID}, "address": {address}})
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %v", err)
	}
	for _, target := range targets {
		if target.Address == address {
			return target, nil
		}
	}
	return nil, nil
}

func findPortListByName(ctx context.Context, c *client.Client, name string) (*types.PortList, error) {
	portLists, err := c.ListPortLists(ctx, url.Values{"name": {name}})
	if err != nil {
		return nil, fmt.Errorf("failed to list port lists: %v", err)
	}
	for _, pl := range portLists {
		if pl.Name == name {
			return pl, nil
		}
	}
	return nil, nil
}

func findScanTypeByName(ctx context.Context, c *client.Client, name string) (*types.ScanType, error) {
	scanTypes, err := c.ListScanTypes(ctx, url.Values{"name": {name}})
	if err != nil {
		return nil, fmt.Errorf("failed to list scan types: %v", err)
	}
	for _, st := range scanTypes {
		if st.Name == name {
			return st, nil
		}
	}
	return nil, nil
}

// resolveCustomer accepts a customer ID or an email address
func resolveCustomer(ctx context.Context, c *client.Client, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("target customer is required")
	}
	customer, err := c.GetCustomer(ctx, ref)
	if err == nil {
		return customer.ID, nil
	}
	if !client.IsNotFound(err) {
		return "", fmt.Errorf("failed to look up customer: %v", err)
	}

	customer, err = findCustomerByEmail(ctx, c, ref)
	if err != nil {
		return "", err
	}
	if customer == nil {
		return "", fmt.Errorf("customer %q not found", ref)
	}
	return customer.ID, nil
}

// resolvePortList accepts a port list ID or an exact name
func resolvePortList(ctx context.Context, c *client.Client, ref string) (string, error) {
	portList, err := c.GetPortList(ctx, ref)
	if err == nil {
		return portList.ID, nil
	}
	if !client.IsNotFound(err) {
		return "", fmt.Errorf("failed to look up port list: %v", err)
	}

	portList, err = findPortListByName(ctx, c, ref)
	if err != nil {
		return "", err
	}
	if portList == nil {
		return "", fmt.Errorf("port list %q not found", ref)
	}
	return portList.ID, nil
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getBool(m map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}

// copySpec copies a spec value onto the PATCH payload when present
func copySpec(spec map[string]interface{}, specKey string, fields map[string]interface{}, jsonKey string) {
	if v, ok := spec[specKey]; ok {
		fields[jsonKey] = v
	}
}
