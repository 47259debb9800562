// Package cli implements the picvault operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"picvault/internal/app"
	"picvault/internal/attachment"
	"picvault/internal/backup"
	"picvault/internal/config"
	"picvault/internal/geometry"
	"picvault/internal/repository"
	"picvault/internal/scheduler"
	"picvault/internal/sizespec"
	"picvault/internal/variant"
	"picvault/internal/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Loader opens the application for commands that need storage and the database.
type Loader func(ctx context.Context) (*app.App, error)

// DefaultLoader reads the configuration from the environment and opens everything on disk.
func DefaultLoader(log *zap.Logger) Loader {
	return func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, log)
	}
}

// NewRootCmd builds the command tree writing its output to out.
func NewRootCmd(out io.Writer, load Loader) *cobra.Command {
	root := &cobra.Command{
		Use:           "picvault",
		Short:         "Manage stored attachments and their resized variants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newGeometryCmd(),
		newImportCmd(load),
		newRegenerateCmd(load),
		newRmCmd(load),
		newLsCmd(load),
		newSweepCmd(load),
		newBackupCmd(load),
		newRestoreCmd(load),
		newVersionCmd(),
	)
	return root
}

func withApp(cmd *cobra.Command, load Loader, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid attachment id %q", s)
	}
	return id, nil
}

// reportVariants prints failed sizes and swallows the aggregate so partial success exits zero.
func reportVariants(w io.Writer, err error) error {
	var verr *variant.VariantError
	if errors.As(err, &verr) {
		for _, f := range verr.Failures {
			fmt.Fprintf(w, "warning: size %s failed: %v\n", f.Token, f.Err)
		}
		return nil
	}
	return err
}

func newGeometryCmd() *cobra.Command {
	var upscale bool
	cmd := &cobra.Command{
		Use:   "geometry <width> <height> <token>",
		Short: "Print the crop and scale transform for a size token",
		Long: `Print the crop and scale transform a size token yields for a source image.

Examples:
  picvault geometry 800 600 400x400c
  picvault geometry 300 600 100h
  picvault geometry 1000 500 2000x2000e --upscale`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid width %q", args[0])
			}
			h, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid height %q", args[1])
			}
			spec := sizespec.Parse(args[2])
			t, err := geometry.Compute(w, h, spec, upscale)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":     args[2],
				"mode":      spec.Mode.String(),
				"identity":  t.IsIdentity(w, h),
				"transform": t,
			})
		},
	}
	cmd.Flags().BoolVar(&upscale, "upscale", false, "allow targets larger than the source")
	return cmd
}

func newImportCmd(load Loader) *cobra.Command {
	var (
		kind       string
		ownerType  string
		ownerID    string
		sizes      []string
		keepSource bool
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Store a local file as a new attachment and derive its sizes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, token := range sizes {
				if err := sizespec.Validate(token); err != nil {
					return err
				}
			}
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				profile := a.Config.Profile(kind)
				if cmd.Flags().Changed("sizes") {
					profile.Sizes = sizes
				}
				if cmd.Flags().Changed("keep-source") {
					profile.KeepSource = keepSource
				}

				att := attachment.New(kind, profile)
				att.Owner = attachment.Owner{Type: ownerType, ID: ownerID}
				if err := att.AddFile(a.FS, args[0]); err != nil {
					return err
				}
				err := a.Repo.Create(ctx, att)
				if err := reportVariants(cmd.ErrOrStderr(), err); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", att.ID, a.Manager.OriginalPath(att))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "attachment kind (selects the size profile)")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "type of the owning entity")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "id of the owning entity")
	cmd.Flags().StringSliceVar(&sizes, "sizes", nil, "size tokens overriding the profile, e.g. 100w,50x50c")
	cmd.Flags().BoolVar(&keepSource, "keep-source", false, "copy instead of moving the source file")
	return cmd
}

func newRegenerateCmd(load Loader) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "regenerate [id]",
		Short: "Re-derive every declared size from the stored original",
		Args: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass exactly one attachment id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				regen := func(att *attachment.Attachment) error {
					err := reportVariants(cmd.ErrOrStderr(), a.Manager.Regenerate(ctx, att))
					if errors.Is(err, attachment.ErrNotIngested) && all {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: attachment %d has no original\n", att.ID)
						return nil
					}
					if err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "regenerated %d\n", att.ID)
					}
					return err
				}

				if all {
					return a.Repo.Each(ctx, regen)
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				att, err := a.Repo.Get(ctx, id)
				if err != nil {
					return err
				}
				return regen(att)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "regenerate every attachment")
	return cmd
}

func newRmCmd(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete attachments with their original and variants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				for _, arg := range args {
					id, err := parseID(arg)
					if err != nil {
						return err
					}
					att, err := a.Repo.Get(ctx, id)
					if err != nil {
						return fmt.Errorf("attachment %d: %w", id, err)
					}
					if err := a.Repo.Delete(ctx, att); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
				}
				return nil
			})
		},
	}
}

func newLsCmd(load Loader) *cobra.Command {
	var filter repository.Filter
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List attachments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.List(ctx, filter)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tFILE\tTYPE\tSIZE\tOWNER\tSIZES")
				for _, att := range items {
					owner := ""
					if !att.Owner.IsZero() {
						owner = att.Owner.Type + ":" + att.Owner.ID
					}
					fmt.Fprintf(tw, "%d\t%s\t%s.%s\t%s\t%d\t%s\t%v\n",
						att.ID, att.Kind, att.Filename, att.Extension, att.FileType, att.Size, owner, att.Sizes)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&filter.Kind, "kind", "", "only this kind")
	cmd.Flags().StringVar(&filter.Owner.Type, "owner-type", "", "only this owner type")
	cmd.Flags().StringVar(&filter.Owner.ID, "owner-id", "", "only this owner id")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum rows (0 for all)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "rows to skip, requires --limit")
	return cmd
}

func newSweepCmd(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Derive every declared size that is missing on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				stats, err := scheduler.New(a.Repo, a.Manager, scheduler.WithLogger(zap.L())).Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newBackupCmd(load Loader) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "backup [s3|webdav]",
		Short: "Archive the database and public files and upload or save the archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (output == "") {
				return errors.New("pass a target or --output")
			}
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				if output != "" {
					buf, err := a.Backup.Build(ctx)
					if err != nil {
						return err
					}
					if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
					return nil
				}
				name, err := a.Backup.Run(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the archive to this local file instead")
	return cmd
}

func newRestoreCmd(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive> <dir>",
		Short: "Unpack a backup archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(_ context.Context, a *app.App) error {
				f, err := a.FS.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				if err := backup.Extract(a.FS, f, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored into %s\n", args[1])
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
		},
	}
}
