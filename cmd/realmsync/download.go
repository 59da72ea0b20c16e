package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/session"
	"github.com/wippyai/realm-sync-bridge/syncmanager"
)

// reporter receives download progress for the session at index.
type reporter interface {
	progress(index int, transferred, transferable uint64)
	finished(index int, err error)
}

// targetFlags describes a realm given on the command line.
type targetFlags struct {
	User          string
	ServerURL     string
	Path          string
	TrustedCAPath string
	Insecure      bool
	Partial       bool
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		target targetFlags
		upload bool
		plain  bool
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download synchronized realms and wait until they are up to date",
		Long: `Download opens a sync session per realm and waits for all remote changes.
Realms come from --user/--url or, when those are not set, from the sessions
listed in the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := a.targets(target)
			if err != nil {
				return err
			}
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			d := &downloader{m: m, log: a.log, targets: targets, upload: upload, workers: a.cfg.Engine.Workers}
			if !plain && isTerminal(out) {
				return d.runInteractive(cmd.Context(), out)
			}
			return d.run(cmd.Context(), &lineReporter{out: out, targets: targets})
		},
	}
	cmd.Flags().StringVar(&target.User, "user", "", "User identity")
	cmd.Flags().StringVar(&target.ServerURL, "url", "", "Realm URL")
	cmd.Flags().StringVar(&target.Path, "path", "", "Local realm file (default derived from user and url)")
	cmd.Flags().StringVar(&target.TrustedCAPath, "ca", "", "Trusted CA file")
	cmd.Flags().BoolVar(&target.Insecure, "insecure", false, "Skip SSL validation")
	cmd.Flags().BoolVar(&target.Partial, "partial", false, "Open as a partially synchronized realm")
	cmd.Flags().BoolVar(&upload, "upload", false, "Also wait for local changes to upload")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress lines instead of the interactive view")
	return cmd
}

func (a *app) targets(flagTarget targetFlags) ([]config.SyncConfiguration, error) {
	if flagTarget.User != "" || flagTarget.ServerURL != "" {
		c := config.SyncConfiguration{
			User:                flagTarget.User,
			ServerURL:           flagTarget.ServerURL,
			Path:                flagTarget.Path,
			TrustedCAPath:       flagTarget.TrustedCAPath,
			EnableSSLValidation: !flagTarget.Insecure,
			IsPartial:           flagTarget.Partial,
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return []config.SyncConfiguration{c}, nil
	}
	if len(a.cfg.Sessions) == 0 {
		return nil, fmt.Errorf("no realm to download: pass --user and --url or list sessions in the configuration")
	}
	return a.cfg.Sessions, nil
}

type downloader struct {
	m       *syncmanager.Manager
	log     *zap.Logger
	targets []config.SyncConfiguration
	upload  bool
	workers int
}

func (d *downloader) run(ctx context.Context, rep reporter) error {
	g, ctx := errgroup.WithContext(ctx)
	if d.workers > 0 {
		g.SetLimit(d.workers)
	}
	for i := range d.targets {
		g.Go(func() error {
			err := d.one(ctx, i, rep)
			rep.finished(i, err)
			return err
		})
	}
	return g.Wait()
}

func (d *downloader) runInteractive(ctx context.Context, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := make([]string, len(d.targets))
	for i, t := range d.targets {
		names[i] = t.ServerURL
	}
	p := tea.NewProgram(newProgressModel(names, cancel), tea.WithOutput(out), tea.WithContext(ctx))

	errc := make(chan error, 1)
	go func() { errc <- d.run(ctx, programReporter{p}) }()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return <-errc
}

func (d *downloader) one(ctx context.Context, i int, rep reporter) error {
	t := d.targets[i]
	path := t.Path
	if path == "" {
		p, err := d.m.GetPathForRealm(ctx, t.User, t.ServerURL)
		if err != nil {
			return err
		}
		path = p
	}

	s, err := session.Open(ctx, d.m, path, &t, t.EncryptionKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.WithoutCancel(ctx)); err != nil {
			d.log.Warn("close session", zap.String("path", path), zap.Error(err))
		}
	}()

	s.OnError(func(s *session.Session, err *errors.SessionError) {
		if err.Variant == errors.VariantClientReset {
			d.log.Warn("client reset required",
				zap.String("path", s.Path()),
				zap.String("recovery", err.RecoveryFilePath()))
			return
		}
		d.log.Warn("session error", zap.String("path", s.Path()), zap.Error(err))
	})

	unsubscribe, err := s.SubscribeProgress(ctx, native.ProgressDownload, native.ProgressForCurrentlyOutstandingWork,
		func(transferred, transferable uint64) { rep.progress(i, transferred, transferable) })
	if err != nil {
		return err
	}
	defer unsubscribe()

	if err := s.WaitForDownload(ctx); err != nil {
		return fmt.Errorf("download %s: %w", path, err)
	}
	if d.upload {
		if err := s.WaitForUpload(ctx); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}
	return nil
}

// lineReporter prints one line per event.
type lineReporter struct {
	out     io.Writer
	targets []config.SyncConfiguration
	mu      sync.Mutex
}

func (r *lineReporter) progress(i int, transferred, transferable uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s: %d/%d bytes\n", r.targets[i].ServerURL, transferred, transferable)
}

func (r *lineReporter) finished(i int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		fmt.Fprintf(r.out, "%s: failed: %v\n", r.targets[i].ServerURL, err)
		return
	}
	fmt.Fprintf(r.out, "%s: done\n", r.targets[i].ServerURL)
}

type programReporter struct {
	p *tea.Program
}

func (r programReporter) progress(i int, transferred, transferable uint64) {
	r.p.Send(progressMsg{index: i, transferred: transferred, transferable: transferable})
}

func (r programReporter) finished(i int, err error) {
	r.p.Send(finishedMsg{index: i, err: err})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
