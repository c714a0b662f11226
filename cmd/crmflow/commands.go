package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/crm/memory"
	"github.com/dukex/crmflow/pkg/definitions"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/persistence/file"
)

// offlineChecker builds an engine over a scratch store. Definition checks
// never read the store.
func offlineChecker() (*engine.Engine, func(), error) {
	dir, err := os.MkdirTemp("", "crmflow-validate-")
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = os.RemoveAll(dir) }

	eng, err := engine.New(engine.Config{}, engine.Dependencies{
		Store:     file.NewPersistence(dir),
		Delegates: actions.Dependencies{Entities: memory.New()},
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		cleanup()

		return nil, nil, err
	}

	return eng, cleanup, nil
}

func runValidate(_ context.Context, out io.Writer, path string) error {
	file, err := definitions.Load(path)
	if err != nil {
		return err
	}

	checker, cleanup, err := offlineChecker()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := definitions.Check(checker, file); err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "ok: %d templates, %d flows, %d cadences, %d inactivity rules\n",
		len(file.Templates), len(file.Flows), len(file.Cadences), len(file.InactivityRules))

	return err
}

func runLoad(ctx context.Context, out io.Writer, eng *engine.Engine, path string) error {
	file, err := definitions.Load(path)
	if err != nil {
		return err
	}

	if err := definitions.Check(eng, file); err != nil {
		return err
	}

	report, err := definitions.Seed(ctx, eng, file, slog.Default())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "saved: %d templates, %d flows, %d cadences, %d inactivity rules\n",
		report.Templates, report.Flows, report.Cadences, report.InactivityRules)

	return err
}

func runTick(ctx context.Context, out io.Writer, eng *engine.Engine) error {
	report, err := eng.Tick(ctx)

	if _, werr := fmt.Fprintf(out, "resumed=%d enrolled=%d advanced=%d fired=%d\n",
		report.Resumed, report.Enrolled, report.Advanced, report.Fired); werr != nil && err == nil {
		err = werr
	}

	return err
}
