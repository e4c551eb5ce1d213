// Package ingestcmder provides the ingest command that loads news documents
// from JSON or YAML files.
package ingestcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/finsight/cmd/finsight/cmdutil"
	"github.com/papercomputeco/finsight/pkg/cliui"
	"github.com/papercomputeco/finsight/pkg/config"
	"github.com/papercomputeco/finsight/pkg/document"
	"github.com/papercomputeco/finsight/pkg/ingest"
	"github.com/papercomputeco/finsight/pkg/rag"
)

const jobPollInterval = 250 * time.Millisecond

type ingestCommander struct {
	path    string
	format  string
	noEmbed bool
	async   bool
	local   bool

	apiTarget string
}

const ingestLongDesc string = `Add news documents from a JSON or YAML file.

The file holds a list of documents, or an object with a "documents" list.
Each document has "text", an optional "id" and optional "metadata" (title,
source, category, date and any other flat values):

  - id: aapl-q3
    text: Apple reported record services revenue...
    metadata:
      title: Apple beats estimates
      source: reuters
      category: earnings
      date: "2024-08-01"

By default documents are sent to the running server. --async queues them on
the server's ingest pool and waits for the job. --local opens the configured
stores directly instead, which is useful for seeding before the server starts.

Texts that are already stored are reported as duplicates. With --no-embed the
documents are stored without vectors; "finsight reconcile --repair" embeds
them later.

Examples:
  finsight ingest news.json
  finsight ingest news.yaml --async
  cat news.json | finsight ingest -
  finsight ingest news.yaml --local --no-embed`

const ingestShortDesc string = "Add documents from a JSON or YAML file"

var localFlags = []string{
	config.FlagStorageBackend,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
}

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}
	var (
		storage, sqlitePath, postgresDSN string
		vectorProvider, vectorTarget     string
		embedProvider, embedModel        string
		embedDims                        uint
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.path = args[0]
			if cmder.local && cmder.async {
				return errors.New("--async needs a running server and cannot be combined with --local")
			}

			inputs, err := ingest.LoadFile(cmder.path, ingest.Format(cmder.format))
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
				return nil
			}

			if cmder.local {
				return cmder.runLocal(cmd, inputs)
			}
			return cmder.runRemote(cmd, inputs)
		},
	}

	cmd.Flags().StringVar(&cmder.format, "format", "", "json or yaml (by file extension when empty)")
	cmd.Flags().BoolVar(&cmder.noEmbed, "no-embed", false, "Store documents without vectors")
	cmd.Flags().BoolVar(&cmder.async, "async", false, "Queue on the server's ingest pool and wait for the job")
	cmd.Flags().BoolVar(&cmder.local, "local", false, "Open the configured stores directly instead of using the server")
	config.AddStringFlag(cmd, config.Flags, config.FlagAPITarget, &cmder.apiTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageBackend, &storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &postgresDSN)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreProv, &vectorProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorStoreTgt, &vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingProv, &embedProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagEmbeddingModel, &embedModel)
	config.AddUintFlag(cmd, config.Flags, config.FlagEmbeddingDims, &embedDims)

	return cmd
}

func (c *ingestCommander) runRemote(cmd *cobra.Command, inputs []document.Input) error {
	cl, err := cmdutil.NewClient(cmd, c.apiTarget)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	msg := fmt.Sprintf("Adding %d documents", len(inputs))

	if !c.async {
		var res *ingest.AddResult
		err := cliui.Step(w, msg, func() error {
			var addErr error
			res, addErr = cl.AddDocuments(ctx, inputs, !c.noEmbed)
			return addErr
		})
		if err != nil {
			return err
		}
		printResult(w, res)
		return nil
	}

	id, err := cl.EnqueueDocuments(ctx, inputs, !c.noEmbed)
	if err != nil {
		return err
	}

	var job *ingest.JobStatus
	err = cliui.Step(w, msg+" "+cliui.DimStyle.Render("(job "+id+")"), func() error {
		ticker := time.NewTicker(jobPollInterval)
		defer ticker.Stop()
		for {
			var pollErr error
			job, pollErr = cl.Job(ctx, id)
			if pollErr != nil {
				return pollErr
			}
			switch job.State {
			case ingest.JobSucceeded:
				return nil
			case ingest.JobFailed:
				return fmt.Errorf("ingest job %s failed: %s", id, job.Error)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	if err != nil {
		return err
	}
	printResult(w, job.Result)
	return nil
}

func (c *ingestCommander) runLocal(cmd *cobra.Command, inputs []document.Input) error {
	cfg, err := cmdutil.LoadConfig(cmd, localFlags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := rag.Open(ctx, cfg, cmdutil.ConfigDir(cmd), cmdutil.NewLogger(cmd))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close(context.Background()) }()

	w := cmd.OutOrStdout()
	var res *ingest.AddResult
	err = cliui.Step(w, fmt.Sprintf("Adding %d documents", len(inputs)), func() error {
		var addErr error
		res, addErr = svc.AddDocuments(ctx, inputs, !c.noEmbed)
		return addErr
	})
	if err != nil {
		return err
	}
	printResult(w, res)
	return nil
}

func printResult(w io.Writer, res *ingest.AddResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "\n  %s Added %s documents %s\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(strconv.Itoa(res.Created)),
		cliui.DimStyle.Render(fmt.Sprintf("(%d duplicates)", res.Duplicates)),
	)
	if !res.Embedded {
		fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render("stored without vectors; run \"finsight reconcile --repair\" to embed"))
	}
	fmt.Fprintln(w)
}
