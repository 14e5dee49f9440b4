package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plangate/internal/gate"
	"plangate/internal/registry"
	"plangate/internal/services"
	"plangate/pkg/models"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validateCmd() *cobra.Command {
	// Remote credentials may come from flags or PLANGATE_CLIENT_* variables.
	v := viper.New()
	v.SetEnvPrefix("PLANGATE_CLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var (
		registryPath string
		planPath     string
		format       string
		remote       string
		noCorrect    bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an execution plan",
		Long: `Validate an execution plan and print the verdict.

The plan is read from --plan, or from stdin when --plan is "-".
With --registry the plan is validated locally; with --remote it is sent
to a plangate server, authenticating with the OAuth2 client credentials
grant when --token-url is set.

Exits with status 2 when the plan is rejected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatJSON {
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
			if (registryPath == "") == (remote == "") {
				return errors.New("exactly one of --registry or --remote is required")
			}

			data, err := readPlan(cmd.InOrStdin(), planPath)
			if err != nil {
				return err
			}
			plan, err := models.DecodePlan(data)
			if err != nil {
				return err
			}

			var result *models.ValidationResult
			if registryPath != "" {
				reg, err := registry.LoadFile(registryPath)
				if err != nil {
					return err
				}
				g := gate.New(registry.NewStore(reg), gate.WithAutoCorrection(!noCorrect))
				result = g.Validate(cmd.Context(), plan)
			} else {
				httpClient := http.DefaultClient
				if tokenURL := v.GetString("token-url"); tokenURL != "" {
					httpClient = services.ClientCredentials(cmd.Context(), tokenURL,
						v.GetString("id"), v.GetString("secret"), v.GetStringSlice("scopes"))
				}
				client := services.NewHTTPGateClient(remote, httpClient)
				if result, err = client.Validate(cmd.Context(), plan); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if format == formatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, renderReport(result))
			}

			if !result.Valid {
				return errPlanRejected
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&registryPath, "registry", "r", "", "Registry file for local validation (.yaml, .json or .toml)")
	cmd.Flags().StringVarP(&planPath, "plan", "p", "-", "Execution plan JSON file, - for stdin")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text or json")
	cmd.Flags().StringVar(&remote, "remote", "", "Base URL of a plangate server")
	cmd.Flags().BoolVar(&noCorrect, "no-correct", false, "Disable auto-correction for local validation")
	cmd.Flags().String("token-url", "", "OAuth2 token endpoint for --remote")
	cmd.Flags().String("id", "", "OAuth2 client ID for --remote")
	cmd.Flags().String("secret", "", "OAuth2 client secret for --remote")
	cmd.Flags().StringSlice("scopes", []string{"gate:validate"}, "OAuth2 scopes for --remote")
	_ = v.BindPFlags(cmd.Flags())

	return cmd
}

func searchCmd() *cobra.Command {
	var (
		registryPath string
		kindName     string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search registry names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := registry.ParseKind(kindName)
			if err != nil {
				return err
			}
			reg, err := registry.LoadFile(registryPath)
			if err != nil {
				return err
			}

			matches := registry.Search(reg.View(), args[0], kind, limit)
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%-9s %s\n", m.Kind, m.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&registryPath, "registry", "r", "registry.yaml", "Registry file")
	cmd.Flags().StringVarP(&kindName, "kind", "k", "", "Restrict to node, workflow, tool or service")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of matches, 0 for all")
	return cmd
}

func readPlan(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
