package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wilbrand/pkg/bus"
	"wilbrand/pkg/catalog"
	"wilbrand/pkg/delivery"
	"wilbrand/pkg/mac"
	"wilbrand/services/generator"
	"wilbrand/services/generator/internal/app"
	"wilbrand/services/generator/internal/config"
	"wilbrand/services/generator/internal/prompt"
	"wilbrand/services/packager"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "wilbrandctl",
		Short:         "Generate Wii mailbox payload archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newVersionsCommand())
	cmd.AddCommand(newGenerateCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newWatchCommand())
	return cmd
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadApp(ctx context.Context, publish bool) (*app.App, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg, newLogger(), app.Options{Publish: publish})
}

func newVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List supported system menu versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(commandContext(cmd), false)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, token := range a.Catalog.Tokens() {
				fmt.Fprintln(cmd.OutOrStdout(), token)
			}
			return nil
		},
	}
}

type generateFlags struct {
	mac         string
	date        string
	version     string
	bundleExtra bool
	output      string
	extract     bool
	manifest    bool
	sign        bool
	interactive bool
	publish     bool
}

func newGenerateCommand() *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a payload archive for one console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(commandContext(cmd), cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.mac, "mac", "", "Console MAC address (AA-BB-CC-DD-EE-FF, aa:bb:.. or aabb..)")
	cmd.Flags().StringVar(&flags.date, "date", "", "Console date as dd-MM-yyyy (default today)")
	cmd.Flags().StringVar(&flags.version, "version", "", "System menu version token, e.g. 4.3u")
	cmd.Flags().BoolVar(&flags.bundleExtra, "bundle-extra", false, "Include the HackMii installer files")
	cmd.Flags().StringVar(&flags.output, "output", ".", "Directory to write output.zip into")
	cmd.Flags().BoolVar(&flags.extract, "extract", false, "Also extract the archive into the output directory")
	cmd.Flags().BoolVar(&flags.manifest, "manifest", false, "Print the archive manifest as YAML")
	cmd.Flags().BoolVar(&flags.sign, "sign", false, "Write a detached signature next to output.zip (AGE_SECRET_KEY)")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "Prompt for the MAC address, version and date")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "Publish the result to NATS_URL")
	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, flags generateFlags) error {
	var signer *packager.Signer
	if flags.sign {
		s, err := packager.NewSignerFromEnv()
		if err != nil {
			return fmt.Errorf("signer: %w", err)
		}
		signer = s
	}

	a, err := loadApp(ctx, flags.publish)
	if err != nil {
		return err
	}
	defer a.Close()

	bundleExtra := flags.bundleExtra || a.Config.BundleExtraDefault
	if bundleExtra && !a.Assembler.CanBundle() {
		return fmt.Errorf("--bundle-extra needs BUNDLE_BASE_URL, BUNDLE_DIR or BUNDLE_S3_BUCKET")
	}

	var form generator.Form
	if flags.interactive {
		p, err := prompt.New(prompt.NewSurveyDriver(), a.Catalog, time.Now)
		if err != nil {
			return err
		}
		form, err = p.Form(ctx, a.Assembler.CanBundle())
		if err != nil {
			return err
		}
		form.BundleExtra = form.BundleExtra || flags.bundleExtra
	} else {
		form, err = formFromFlags(flags, bundleExtra)
		if err != nil {
			return err
		}
	}

	req, err := form.Submission(a.Catalog)
	if err != nil {
		return err
	}

	res, err := a.Pipeline.Run(ctx, req, delivery.FileSaver{Dir: flags.output})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "wrote %s\n", res.Location)

	if flags.sign {
		sigPath := string(res.Location) + packager.SignatureSuffix
		if err := signer.WriteSignatureFile(sigPath, res.Archive); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s\n", sigPath)
	}
	if flags.extract {
		if err := res.Manifest.Extract(flags.output); err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}
		fmt.Fprintf(out, "extracted %s\n", filepath.Join(flags.output, res.Root))
	}
	if flags.manifest {
		data, err := res.Summary.YAML()
		if err != nil {
			return fmt.Errorf("marshal manifest: %w", err)
		}
		_, _ = out.Write(data)
	}
	return nil
}

func formFromFlags(flags generateFlags, bundleExtra bool) (generator.Form, error) {
	form := generator.NewForm(time.Now())
	form.BundleExtra = bundleExtra

	if flags.mac == "" {
		return generator.Form{}, fmt.Errorf("--mac is required without --interactive")
	}
	addr, err := mac.Parse(flags.mac)
	if err != nil {
		return generator.Form{}, &generator.ValidationError{Field: "mac", Err: err}
	}
	form.Octets = addr.Octets()

	if flags.version == "" {
		return generator.Form{}, fmt.Errorf("--version is required without --interactive")
	}
	version, err := catalog.ParseToken(flags.version)
	if err != nil {
		return generator.Form{}, &generator.ValidationError{Field: "version", Err: err}
	}
	form.Number, form.Region = version.Number, version.Region

	if flags.date != "" {
		date, err := generator.ParseDate(flags.date)
		if err != nil {
			return generator.Form{}, err
		}
		form.Date = date
	}
	return form, nil
}

func newVerifyCommand() *cobra.Command {
	var sigPath string

	cmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Verify an archive against its detached signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := packager.NewSignerFromEnv()
			if err != nil {
				return fmt.Errorf("signer: %w", err)
			}
			archive := args[0]
			if sigPath == "" {
				sigPath = archive + packager.SignatureSuffix
			}
			if err := signer.VerifyFiles(archive, sigPath); err != nil {
				return fmt.Errorf("verify %s: %w", archive, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signature ok\n", archive)
			return nil
		},
	}
	cmd.Flags().StringVar(&sigPath, "signature", "", "Signature file (default FILE.sig)")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var durable string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print generation events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.NATSURL == "" {
				return fmt.Errorf("NATS_URL is required")
			}
			b, err := bus.New(cfg.NATSURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			out := cmd.OutOrStdout()
			sub, err := b.Subscribe(ctx, generator.FinishedSubject, durable, func(_ context.Context, data []byte) error {
				var event generator.Event
				if err := json.Unmarshal(data, &event); err != nil {
					return err
				}
				line := fmt.Sprintf("%s %s %s %.2fs", event.FinishedAt.Format(time.RFC3339), event.ID, event.Outcome, event.Duration)
				if event.Error != "" {
					line += " " + event.Error
				}
				_, err := fmt.Fprintln(out, line)
				return err
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&durable, "durable", "", "JetStream durable consumer name (default core subscription)")
	return cmd
}
