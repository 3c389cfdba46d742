package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amerfu/bllm/pkg/api"
)

var (
	apiURL     string
	token      string
	adminKey   string
	outputJSON bool
)

// SetClientConfig stores the connection settings the root command parsed.
func SetClientConfig(url, bearerToken, key string) {
	apiURL = url
	token = bearerToken
	adminKey = key
}

// SetOutputJSON sets the output format preference
func SetOutputJSON(json bool) {
	outputJSON = json
}

// Client builds the API client from the configured flags.
func Client() (*api.Client, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("API URL required; pass --api-url or set BLLM_API_URL")
	}

	opts := []api.Option{}
	if token != "" {
		opts = append(opts, api.WithToken(token))
	}
	if adminKey != "" {
		opts = append(opts, api.WithAdminKey(adminKey))
	}
	return api.NewClient(apiURL, opts...), nil
}

// OutputTable outputs data in table format
func OutputTable(headers []string, rows [][]string) {
	if outputJSON {
		var jsonRows []map[string]string
		for _, row := range rows {
			jsonRow := make(map[string]string)
			for i, cell := range row {
				if i < len(headers) {
					jsonRow[headers[i]] = cell
				}
			}
			jsonRows = append(jsonRows, jsonRow)
		}
		OutputJSON(jsonRows)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	for i, header := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, header)
	}
	_, _ = fmt.Fprintln(w)

	for i := range headers {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, "---")
	}
	_, _ = fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, cell)
		}
		_, _ = fmt.Fprintln(w)
	}

	_ = w.Flush()
}

// OutputJSON outputs data in JSON format
func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

// NewConfigCommand creates a config command showing the effective settings.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show the connection settings the CLI resolved from flags and environment",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := map[string]interface{}{
				"api_url":       apiURL,
				"token_set":     token != "",
				"admin_key_set": adminKey != "",
				"output_json":   outputJSON,
			}

			if outputJSON {
				OutputJSON(config)
			} else {
				fmt.Printf("API URL: %s\n", apiURL)
				fmt.Printf("Token Set: %v\n", token != "")
				fmt.Printf("Admin Key Set: %v\n", adminKey != "")
				fmt.Printf("JSON Output: %v\n", outputJSON)
			}

			return nil
		},
	})

	return cmd
}
