package analyzer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportFormat names an export encoding.
type ExportFormat string

// Supported export formats.
const (
	FormatJSON     ExportFormat = "json"
	FormatYAML     ExportFormat = "yaml"
	FormatCSV      ExportFormat = "csv"
	FormatMarkdown ExportFormat = "markdown"
)

// ErrCSVUnsupported is returned when a result has no tabular form.
var ErrCSVUnsupported = errors.New("csv export is only available for ec2_with_security_groups results")

// ParseExportFormat accepts json, yaml/yml, csv and markdown/md.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ExportJSON encodes any JSON-safe value (a Result or an inventory) with
// two space indentation.
func ExportJSON(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return out, nil
}

// ExportYAML encodes v as block style YAML. The value goes through its
// JSON form first so that field names and key order match ExportJSON.
func ExportYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode json as yaml: %w", err)
	}
	blockStyle(&doc)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return out, nil
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

var csvHeader = []string{
	"instance_id", "instance_type", "state", "public_ip", "private_ip",
	"vpc_id", "subnet_id", "security_group_id", "security_group_name",
}

// ExportCSV writes one row per security group per instance. Instances
// without security groups get a single row with empty group columns.
func ExportCSV(w io.Writer, r Result) error {
	data, ok := r.Data.(EC2SecurityGroups)
	if !ok {
		return ErrCSVUnsupported
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, inst := range data.Instances {
		base := []string{
			inst.InstanceID, inst.InstanceType, inst.State, inst.PublicIP,
			inst.PrivateIP, inst.VpcID, inst.SubnetID,
		}
		groups := inst.SecurityGroups
		if len(groups) == 0 {
			groups = []SecurityGroupRef{{}}
		}
		for _, sg := range groups {
			row := append(append([]string{}, base...), sg.ID, sg.Name)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes r in the given format.
func Export(w io.Writer, r Result, format ExportFormat) error {
	var out []byte
	var err error
	switch format {
	case FormatJSON:
		out, err = ExportJSON(r)
	case FormatYAML:
		out, err = ExportYAML(r)
	case FormatCSV:
		return ExportCSV(w, r)
	case FormatMarkdown:
		out = []byte(Format(r) + "\n")
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
