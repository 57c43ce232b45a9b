package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/kalambet/folio/internal/api"
	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/normalize"
	"github.com/kalambet/folio/internal/preference"
	"github.com/kalambet/folio/internal/storage"
)

// --- template ---

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "List, resolve and select portfolio templates",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := fetchTemplates(cmd.Context(), client)
		if err != nil {
			return err
		}

		if output != "" {
			return writeOutput(os.Stdout, output, list)
		}
		for _, t := range list {
			category := t.Category
			if category == "" {
				category = "-"
			}
			fmt.Printf("%-28s %-12s %s\n", colorize(colorCyan, t.ID), t.Layout, category)
		}
		return nil
	},
}

var templateResolveCmd = &cobra.Command{
	Use:   "resolve <username>",
	Short: "Show which template a profile is displayed with",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		override, _ := cmd.Flags().GetString("template")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := resolveTemplate(cmd.Context(), client, args[0], override)
		if err != nil {
			return err
		}

		if res.Placeholder {
			fmt.Printf("%s %s\n", res.Template, colorize(colorYellow, "(coming soon)"))
			return nil
		}
		fmt.Printf("%s (%s layout)\n", res.Template, res.Layout)
		return nil
	},
}

var templateSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Save the template preference for the logged-in profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := selectTemplate(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Template set to %s", id)
		return nil
	},
}

// askTemplate prompts for one of options; replaced in tests.
var askTemplate = func(options []string, current string) (string, error) {
	var choice string
	prompt := &survey.Select{
		Message:  "Choose a template:",
		Options:  options,
		PageSize: 15,
	}
	if current != "" {
		prompt.Default = current
	}
	err := survey.AskOne(prompt, &choice)
	return choice, err
}

var templateChooseCmd = &cobra.Command{
	Use:   "choose",
	Short: "Pick a template interactively and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		ctx := cmd.Context()

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return errors.New("not logged in; run `folio login` first")
		}

		list, err := fetchTemplates(ctx, client)
		if err != nil {
			return err
		}
		options := make([]string, len(list))
		for i, t := range list {
			options[i] = t.ID
		}

		var current string
		if username != "" {
			if res, err := resolveTemplate(ctx, client, username, ""); err == nil {
				current = res.Template
			}
		}
		if !contains(options, current) {
			current = ""
		}

		choice, err := askTemplate(options, current)
		if err != nil {
			return err
		}
		id, err := selectTemplate(ctx, client, choice)
		if err != nil {
			return err
		}
		printSuccess("Template set to %s", id)
		return nil
	},
}

func init() {
	templateListCmd.Flags().StringP("output", "o", "", "output format (json|yaml)")
	templateResolveCmd.Flags().String("template", "", "explicit template override")
	templateChooseCmd.Flags().String("username", "", "your username, to preselect the current template")
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateResolveCmd)
	templateCmd.AddCommand(templateSetCmd)
	templateCmd.AddCommand(templateChooseCmd)
}

type resolveResult struct {
	Template    string `json:"template"`
	Layout      string `json:"layout"`
	Placeholder bool   `json:"placeholder"`
}

func fetchTemplates(ctx context.Context, client *apiClient) ([]api.TemplateInfo, error) {
	resp, err := client.get(ctx, "/api/templates")
	if err != nil {
		return nil, err
	}
	var list []api.TemplateInfo
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func resolveTemplate(ctx context.Context, client *apiClient, username, override string) (resolveResult, error) {
	q := url.Values{}
	q.Set("subject", username)
	if override != "" {
		q.Set("template", override)
	}
	var res resolveResult
	resp, err := client.get(ctx, "/api/resolve?"+q.Encode())
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

func selectTemplate(ctx context.Context, client *apiClient, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("template id is required")
	}
	resp, err := client.put(ctx, "/api/preference", map[string]string{"template": id})
	if err != nil {
		return "", err
	}
	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result["template"], nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect profile data",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Show a profile in the normalized template schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		schema, err := fetchNormalized(cmd.Context(), client, args[0], category)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, output, schema)
	},
}

func init() {
	profileShowCmd.Flags().String("category", "", "category hint (default: the resolved template's category)")
	profileShowCmd.Flags().StringP("output", "o", formatJSON, "output format (json|yaml)")
	profileCmd.AddCommand(profileShowCmd)
}

func fetchNormalized(ctx context.Context, client *apiClient, username, category string) (normalize.Schema, error) {
	path := "/api/profiles/" + url.PathEscape(username) + "/normalized"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var schema normalize.Schema
	resp, err := client.get(ctx, path)
	if err != nil {
		return schema, err
	}
	err = decodeJSON(resp, &schema)
	return schema, err
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the local template preference cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached template preferences (sqlite backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Cache.Backend != config.CacheSQLite {
			printWarning("cache list needs cache.backend=%s (current: %s)", config.CacheSQLite, cfg.Cache.Backend)
			return nil
		}

		db, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer db.Close()

		entries, err := db.ListCacheEntries(preference.GlobalKey)
		if err != nil {
			return fmt.Errorf("listing cache: %w", err)
		}
		return printCacheEntries(os.Stdout, output, entries)
	},
}

func printCacheEntries(w io.Writer, output string, entries []storage.CacheEntry) error {
	if output != "" {
		return writeOutput(w, output, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No cached preferences.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%-40s %-24s %s\n", e.Key, colorize(colorCyan, e.Value), e.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func init() {
	cacheListCmd.Flags().StringP("output", "o", "", "output format (json|yaml)")
	cacheCmd.AddCommand(cacheListCmd)
}

// --- login ---

// askToken prompts for a session token; replaced in tests.
var askToken = func() (string, error) {
	var token string
	err := survey.AskOne(&survey.Password{Message: "Backend session token:"}, &token, survey.WithValidator(survey.Required))
	return token, err
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save a backend session token for owner operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			var err error
			if token, err = askToken(); err != nil {
				return err
			}
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("token is required")
		}
		if err := config.SaveSession(token); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}
		printSuccess("Session saved")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved backend session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearSession(); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
		printSuccess("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "session token (prompted when omitted)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if output != "" {
			return writeOutput(os.Stdout, output, keys)
		}
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringP("output", "o", "", "output format (json|yaml)")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
