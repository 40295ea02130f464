package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glimte/mmate-http/config"
	"github.com/glimte/mmate-http/i18n"
)

func newPluralCommand(g *globals) *cobra.Command {
	var (
		locale string
		cases  []string
	)

	cmd := &cobra.Command{
		Use:   "plural VALUE",
		Short: "Resolve the plural category of a number",
		Long: `Print the plural category of VALUE for a locale. With --case the matching
message is printed instead, with every '#' replaced by the value.`,
		Example: `  mmate-http plural 3 --locale ru
  mmate-http plural 1 --case "=0=no files" --case "one=# file" --case "other=# files"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[0], err)
			}

			if locale == "" {
				cfg, err := config.Load(g.configPath)
				if err != nil {
					return err
				}
				locale = cfg.Locale
			}

			if len(cases) == 0 {
				category, err := i18n.PluralCategory(value, locale)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), category)
				return nil
			}

			messages, err := parseCases(cases)
			if err != nil {
				return err
			}
			msg, err := i18n.FormatPlural(value, messages, locale)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&locale, "locale", "l", "", "Locale such as en, ru or pt-PT (default: from config)")
	cmd.Flags().StringArrayVar(&cases, "case", nil, "Message case as 'key=message', key is a category or '=N' (repeatable)")

	return cmd
}

// parseCases splits 'key=message'. An exact key starts with '=' so the
// separator is the first '=' after it.
func parseCases(raw []string) (map[string]string, error) {
	messages := make(map[string]string, len(raw))
	for _, c := range raw {
		offset := 0
		if strings.HasPrefix(c, "=") {
			offset = 1
		}
		idx := strings.Index(c[offset:], "=")
		if idx < 0 || idx == 0 {
			return nil, fmt.Errorf("invalid case %q, expected 'key=message'", c)
		}
		messages[c[:offset+idx]] = c[offset+idx+1:]
	}
	return messages, nil
}
