package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/EphraimElvis/coralite-io/internal/build"
	"github.com/EphraimElvis/coralite-io/internal/config"
	"github.com/EphraimElvis/coralite-io/internal/logging"
	"github.com/EphraimElvis/coralite-io/internal/publish"
	"github.com/EphraimElvis/coralite-io/internal/rebuild"
	"github.com/EphraimElvis/coralite-io/internal/server"
	"github.com/EphraimElvis/coralite-io/internal/watcher"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, afero.NewOsFs(), logging.NewConsole(cmd.OutOrStdout()), newLogger(cfg))
}

// serve builds the site, then serves and rebuilds until ctx is cancelled or
// the server stops on its own.
func serve(ctx context.Context, cfg *config.Config, fs afero.Fs, console *logging.Console, logger logging.Logger) error {
	publish.CopyAll(ctx, fs, cfg.Copy, logger)

	srv := server.New(cfg,
		server.WithLogger(logger),
		server.WithConsole(console),
		server.WithFs(fs),
	)

	coordinator := rebuild.New(srv.Broadcaster(),
		[]rebuild.Target{
			{Kind: rebuild.KindHTML, Builder: build.NewHTMLBuilder(cfg.HTML, logger)},
			{Kind: rebuild.KindCSS, Builder: build.NewCSSBuilder(cfg.CSS, logger)},
		},
		rebuild.WithLogger(logger),
		rebuild.WithConsole(console),
		rebuild.WithStopper(srv, cfg.Server.ShutdownTimeout),
	)
	defer coordinator.Close()

	if err := coordinator.InitialBuild(ctx); err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(watcher.ExtensionFilter(".html", ".css"))
	for _, path := range cfg.Watch.Paths {
		if err := fw.AddRecursive(path); err != nil {
			logger.Warn(ctx, err, "Not watching path", "path", path)
		}
	}

	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	fw.AddHandler(coordinator.HandleEvents(gctx))
	fw.OnError(func(err error) {
		coordinator.HandleWatchError(gctx, err)
	})
	if err := fw.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		// Serve also returns when a watch error stopped the server.
		defer cancel()
		return srv.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()

		return srv.Stop(stopCtx)
	})

	return g.Wait()
}
