package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mccutchen/hrefresolver/svg"
)

func (a *app) fetchCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch the resource behind one href",
		Long: `Fetch resolves a single http(s) href and writes its bytes to stdout,
or to the file given by --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			href := args[0]
			if !a.resolver.IsTarget(href) {
				return fmt.Errorf("not an http(s) URL: %q", href)
			}

			res, err := a.resolver.Resolve(a.logger.WithContext(cmd.Context()), href)
			if err != nil {
				return err
			}

			kind, _ := svg.DetectKind(res.ContentType, res.URL, res.Data)
			a.logger.Info().
				Str("url", href).
				Str("resolved_url", res.URL).
				Stringer("kind", kind).
				Int("size", len(res.Data)).
				Msg("fetched")

			if output == "" || output == "-" {
				_, err = a.stdout.Write(res.Data)
				return err
			}
			return afero.WriteFile(a.fs, output, res.Data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the resource to this file instead of stdout")
	return cmd
}
