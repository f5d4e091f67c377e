package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmstreambench/internal/catalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model catalog",
	Long:  `The 'models' command lists, shows and adds the model deployments known to the server.`,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured models",
	Long:  `List every model in the server's catalog with its endpoint and supported parameters.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		models, err := appCfg.Client().Models(commandContext(cmd))
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), models)
		return nil
	},
}

var modelsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one model",
	Long:  `Show the endpoint, API version and supported parameters of one model.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := appCfg.Client().Model(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), []catalog.Info{info})
		return nil
	},
}

var addOpts catalog.Model

var modelsAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a model to the catalog",
	Long: `Add a model deployment to the server's catalog. The API version defaults
to the configured api_version.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := addOpts
		m.Name = args[0]
		if m.APIVersion == "" {
			m.APIVersion = appCfg.APIVersion
		}
		detail, err := appCfg.Client().AddModel(commandContext(cmd), m)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), detail)
		return nil
	},
}

func init() {
	f := modelsAddCmd.Flags()
	f.StringVarP(&addOpts.Endpoint, "endpoint", "e", "", "deployment endpoint URL")
	f.StringVarP(&addOpts.APIKey, "api-key", "k", "", "API key")
	f.StringVar(&addOpts.APIVersion, "api-version", "", "API version")
	_ = modelsAddCmd.MarkFlagRequired("endpoint")
	_ = modelsAddCmd.MarkFlagRequired("api-key")

	modelsCmd.AddCommand(modelsListCmd, modelsShowCmd, modelsAddCmd)
	rootCmd.AddCommand(modelsCmd)
}

func printModels(w io.Writer, models []catalog.Info) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENDPOINT\tAPI VERSION\tPARAMS")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Endpoint, m.APIVersion, formatParams(m.SupportedParams))
	}
	tw.Flush()
}

func formatParams(p *catalog.Params) string {
	if p == nil {
		p = &catalog.Params{MaxTokens: true, Temperature: true, Stream: true}
	}
	var out string
	for _, kv := range []struct {
		name string
		ok   bool
	}{{"max_tokens", p.MaxTokens}, {"temperature", p.Temperature}, {"stream", p.Stream}} {
		if !kv.ok {
			continue
		}
		if out != "" {
			out += ","
		}
		out += kv.name
	}
	if out == "" {
		return "-"
	}
	return out
}
