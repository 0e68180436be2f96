package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mccutchen/hrefresolver"
	"github.com/mccutchen/hrefresolver/svg"
)

func (a *app) inspectCmd() *cobra.Command {
	var resourcesDir string

	cmd := &cobra.Command{
		Use:   "inspect FILE.svg|URL",
		Short: "Parse an SVG document and report how its image hrefs resolve",
		Long: `Inspect parses an SVG document, resolving every <image> href with the
configured resolver. Remote hrefs are fetched; anything else is read from
the local filesystem, relative to --resources-dir (by default the
directory holding the document).

Each resolved image is printed as "href<TAB>kind<TAB>bytes", nested images
indented beneath their parent, followed by any hrefs that did not resolve.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.logger.WithContext(cmd.Context())
			doc := args[0]

			dir := resourcesDir
			if dir == "" {
				dir = a.cfg.Resolver.ResourcesDir
			}

			var data []byte
			if a.resolver.IsTarget(doc) {
				res, err := a.resolver.Resolve(ctx, doc)
				if err != nil {
					return err
				}
				data = res.Data
			} else {
				var err error
				if data, err = afero.ReadFile(a.fs, doc); err != nil {
					return err
				}
				if dir == "" {
					dir = filepath.Dir(doc)
				}
			}

			resolver := hrefresolver.Chain(a.resolver, hrefresolver.NewFileResolver(a.fs, dir))
			tree, err := svg.Parse(ctx, data, a.svgOptions(resolver))
			if err != nil {
				return fmt.Errorf("parsing %s: %w", doc, err)
			}

			writeTree(a.stdout, tree, 0)
			a.logger.Debug().
				Str("document", doc).
				Int("resolved", len(tree.Images)).
				Int("unresolved", len(tree.Unresolved)).
				Msg("inspected")
			return nil
		},
	}

	cmd.Flags().StringVar(&resourcesDir, "resources-dir", "", "directory relative hrefs are resolved against")
	return cmd
}

func writeTree(w io.Writer, tree *svg.Tree, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, img := range tree.Images {
		fmt.Fprintf(w, "%s%s\t%s\t%d\n", indent, displayHref(img.Href), img.Kind, len(img.Data))
		if img.Tree != nil {
			writeTree(w, img.Tree, depth+1)
		}
	}
	for _, href := range tree.Unresolved {
		fmt.Fprintf(w, "%sunresolved\t%s\n", indent, displayHref(href))
	}
}

// displayHref shortens data URLs, which can be arbitrarily long.
func displayHref(href string) string {
	const maxLen = 48
	if strings.HasPrefix(href, "data:") && len(href) > maxLen {
		return href[:maxLen] + "..."
	}
	return href
}
